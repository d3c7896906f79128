/*
Copyright 2021 The Crossplane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/crossplane-contrib/gcp-emulator/pkg/compute"
	"github.com/crossplane-contrib/gcp-emulator/pkg/config"
	"github.com/crossplane-contrib/gcp-emulator/pkg/iam"
	"github.com/crossplane-contrib/gcp-emulator/pkg/runtime"
	"github.com/crossplane-contrib/gcp-emulator/pkg/server"
	"github.com/crossplane-contrib/gcp-emulator/pkg/storage"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/vpc"
)

func main() {
	defaults := config.Default()
	var (
		app   = kingpin.New(filepath.Base(os.Args[0]), "Local emulator for the GCP storage, compute and IAM APIs.").DefaultEnvars()
		debug = app.Flag("debug", "Run with debug logging.").Short('d').Bool()

		listen   = app.Flag("listen", "Address the HTTP server binds.").Default(defaults.ListenAddress).String()
		root     = app.Flag("storage-root", "Directory holding bucket content.").Default(defaults.StorageRoot).String()
		snapshot = app.Flag("snapshot", "File the metadata store snapshots to. Empty keeps metadata in memory only.").String()

		dockerHost = app.Flag("docker-host", "Container runtime endpoint. Empty defers to DOCKER_HOST.").String()
		image      = app.Flag("instance-image", "Container image backing emulated instances.").Default(defaults.InstanceImage).String()

		secret  = app.Flag("signing-secret", "HMAC secret signed URLs are verified against.").Default(defaults.SignedURLSecret).String()
		project = app.Flag("default-project", "Project registered at startup.").Default(defaults.DefaultProject).String()

		lifecycleEvery = app.Flag("lifecycle-interval", "How often bucket lifecycle rules are applied.").Default(defaults.LifecycleInterval.String()).Duration()
		reconcileEvery = app.Flag("reconcile-interval", "How often instance state is checked against containers.").Default(defaults.ReconcileInterval.String()).Duration()
	)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Merge(config.Config{
		ListenAddress:     *listen,
		StorageRoot:       *root,
		SnapshotPath:      *snapshot,
		DockerHost:        *dockerHost,
		InstanceImage:     *image,
		SignedURLSecret:   *secret,
		DefaultProject:    *project,
		LifecycleInterval: *lifecycleEvery,
		ReconcileInterval: *reconcileEvery,
		Debug:             *debug,
	})
	kingpin.FatalIfError(err, "Cannot assemble configuration")
	kingpin.FatalIfError(cfg.Validate(), "Invalid configuration")

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logrus.NewEntry(logger)

	st, err := store.New(log, cfg.SnapshotPath)
	kingpin.FatalIfError(err, "Cannot open metadata store")

	rt, err := runtime.NewDocker(log, cfg.DockerHost)
	kingpin.FatalIfError(err, "Cannot create container runtime client")
	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.ContainerTimeout)
	if err := rt.Ping(pingCtx); err != nil {
		// Storage and IAM work without an engine; only instances need one.
		log.WithError(err).Warn("container runtime is unreachable; instance operations will fail")
	}
	cancel()

	objects := storage.New(st, log, cfg.StorageRoot, cfg.SignedURLSecret)
	kingpin.FatalIfError(objects.EnsureRoot(), "Cannot create storage root")
	kingpin.FatalIfError(objects.Startup(), "Cannot reconcile storage content")

	instances := compute.New(st, rt, log, cfg.InstanceImage)
	srv := server.New(st, objects, instances, vpc.New(st, log), iam.New(st, log), log)

	err = st.Update(func(state *store.State) error {
		state.EnsureProject(cfg.DefaultProject, time.Now())
		return nil
	})
	kingpin.FatalIfError(err, "Cannot register default project")

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"address": cfg.ListenAddress,
			"root":    cfg.StorageRoot,
			"project": cfg.DefaultProject,
		}).Info("emulator listening")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return instances.RunReconciler(ctx, cfg.ReconcileInterval)
	})
	g.Go(func() error {
		return objects.RunLifecycle(ctx, cfg.LifecycleInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	kingpin.FatalIfError(g.Wait(), "Emulator exited")
	log.Info("shutdown complete")
}
