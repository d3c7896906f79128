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

package storage

import (
	"crypto/md5" // nolint:gosec
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
)

const (
	errStageContent    = "cannot stage upload content"
	errHashContent     = "cannot hash staged content"
	errAppendChunk     = "cannot append upload chunk"
	errSessionNotFound = "upload session %q not found"
)

// castagnoli is the CRC32C table. The polynomial matters: the IEEE table
// produces different sums and breaks client integrity checks.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// InsertRequest carries an object insert once transport details are
// stripped. Media, multipart and signed-path uploads all funnel into it.
type InsertRequest struct {
	Bucket        string
	Name          string
	ContentType   string
	CacheControl  string
	Metadata      map[string]string
	Preconditions Preconditions
	Media         io.Reader
}

// InsertObject performs a single-shot upload: the body is staged to a temp
// file with digests computed on the way through, then committed as a new
// version. All-or-nothing: any failure removes the temp file and leaves the
// store untouched.
func (s *Service) InsertObject(req InsertRequest) (*storage.Object, error) {
	if err := validation.ObjectName(req.Name); err != nil {
		return nil, err
	}
	tmp, size, md5Hex, crcHex, err := s.stageContent(req.Media)
	if err != nil {
		return nil, err
	}

	var (
		row *store.Object
		b   *store.Bucket
	)
	err = s.store.Update(func(st *store.State) error {
		var err error
		row, b, err = s.commitVersion(st, req.Bucket, staged{
			name:         req.Name,
			contentType:  req.ContentType,
			cacheControl: req.CacheControl,
			metadata:     req.Metadata,
			size:         size,
			md5:          md5Hex,
			crc32c:       crcHex,
			tmpPath:      tmp,
			pre:          req.Preconditions,
		})
		return err
	})
	if err != nil {
		os.Remove(tmp) // nolint:errcheck
		return nil, err
	}
	s.notify(b, store.EventFinalize, row)
	return GenerateObject(row), nil
}

// stageContent streams r into a temp file, computing MD5 and CRC32C on the
// way through. Both digests are returned as lowercase hex of the big-endian
// bytes.
func (s *Service) stageContent(r io.Reader) (path string, size int64, md5Hex, crcHex string, err error) {
	tmp, err := s.tempFile("upload-*")
	if err != nil {
		return "", 0, "", "", err
	}
	md5Sum := md5.New() // nolint:gosec
	crc := crc32.New(castagnoli)
	size, err = io.Copy(io.MultiWriter(tmp, md5Sum, crc), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name()) // nolint:errcheck
		return "", 0, "", "", errors.Wrap(err, errStageContent)
	}
	return tmp.Name(), size, hex.EncodeToString(md5Sum.Sum(nil)), fmt.Sprintf("%08x", crc.Sum32()), nil
}

// StartResumableUpload opens an upload session: a session row plus an empty
// temp file at <root>/tmp/<session id>. total is the declared object size,
// or -1 while unknown. Preconditions are captured now and evaluated when the
// final chunk lands.
func (s *Service) StartResumableUpload(bucket, name, contentType string, metadata map[string]string, total int64, pre Preconditions) (string, error) {
	if err := validation.ObjectName(name); err != nil {
		return "", err
	}
	if total < -1 {
		total = -1
	}

	id := uuid.NewString()
	tmpPath := filepath.Join(s.tempDir(), id)
	err := s.store.Update(func(st *store.State) error {
		b, err := bucketOf(st, bucket)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(s.tempDir(), 0o755); err != nil {
			return errors.Wrap(err, errStageContent)
		}
		f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrap(err, errStageContent)
		}
		if err := f.Close(); err != nil {
			return errors.Wrap(err, errStageContent)
		}
		st.Sessions[id] = &store.ResumableSession{
			ID:                       id,
			Project:                  b.Project,
			Bucket:                   b.Name,
			ObjectName:               name,
			ContentType:              contentType,
			TotalSize:                total,
			TempPath:                 tmpPath,
			Metadata:                 copyLabels(metadata),
			IfGenerationMatch:        pre.IfGenerationMatch,
			IfGenerationNotMatch:     pre.IfGenerationNotMatch,
			IfMetagenerationMatch:    pre.IfMetagenerationMatch,
			IfMetagenerationNotMatch: pre.IfMetagenerationNotMatch,
			CreatedAt:                s.now(),
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ChunkResult is the outcome of one resumable PUT. Object is non-nil once
// the upload finalized; until then Offset tells the client how much has
// landed.
type ChunkResult struct {
	Object *storage.Object
	Offset int64
	Total  int64
}

// ResumableChunk appends one Content-Range chunk to a session, finalizing
// the object when the declared total is reached. A bytes */<total> probe
// reports the current offset without consuming the body, except that a
// probe whose total equals the landed offset finalizes: that is how
// clients deliver a zero-length final chunk. Chunks must land in order: a
// start beyond or behind the current offset is rejected.
func (s *Service) ResumableChunk(id string, cr validation.ContentRange, body io.Reader) (ChunkResult, error) {
	var sess *store.ResumableSession
	err := s.store.View(func(st *store.State) error {
		got, ok := st.Sessions[id]
		if !ok {
			return apierror.NotFound(errSessionNotFound, id)
		}
		sess = got
		return nil
	})
	if err != nil {
		return ChunkResult{}, err
	}

	if cr.StatusProbe() {
		if sess.TotalSize != -1 && cr.Total != sess.TotalSize {
			return ChunkResult{}, apierror.Invalid("declared total %d does not match session total %d", cr.Total, sess.TotalSize)
		}
		if cr.Total == sess.Offset {
			return s.finalizeSession(id, sess, sess.Offset)
		}
		return ChunkResult{Offset: sess.Offset, Total: sess.TotalSize}, nil
	}
	if cr.Start != sess.Offset {
		return ChunkResult{}, apierror.Invalid("upload offset mismatch: expected %d, got %d", sess.Offset, cr.Start)
	}
	if sess.TotalSize != -1 && cr.Total != -1 && cr.Total != sess.TotalSize {
		return ChunkResult{}, apierror.Invalid("declared total %d does not match session total %d", cr.Total, sess.TotalSize)
	}

	if err := appendChunk(sess.TempPath, sess.Offset, cr.End-cr.Start+1, body); err != nil {
		return ChunkResult{}, err
	}

	offset := cr.End + 1
	total := sess.TotalSize
	if total == -1 {
		total = cr.Total
	}
	if total != -1 && offset == total {
		return s.finalizeSession(id, sess, offset)
	}

	err = s.store.Update(func(st *store.State) error {
		got, ok := st.Sessions[id]
		if !ok {
			return apierror.NotFound(errSessionNotFound, id)
		}
		got.Offset = offset
		got.TotalSize = total
		return nil
	})
	if err != nil {
		return ChunkResult{}, err
	}
	return ChunkResult{Offset: offset, Total: total}, nil
}

// appendChunk writes exactly want bytes of body at offset. A short or
// overlong body truncates the file back to offset so the client can retry
// the chunk.
func appendChunk(path string, offset, want int64, body io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrap(err, errAppendChunk)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close() // nolint:errcheck
		return errors.Wrap(err, errAppendChunk)
	}
	n, err := io.Copy(f, io.LimitReader(body, want+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, errAppendChunk)
	}
	if n != want {
		os.Truncate(path, offset) // nolint:errcheck
		return apierror.Invalid("chunk body length %d does not match Content-Range span %d", n, want)
	}
	return nil
}

// finalizeSession turns a complete session into a committed version and
// drops the session row. Finalize is all-or-nothing: a failed commit,
// including a failed precondition captured at initiation, ends the session
// and removes its temp file.
func (s *Service) finalizeSession(id string, sess *store.ResumableSession, size int64) (ChunkResult, error) {
	md5Hex, crcHex, err := hashFile(sess.TempPath)
	if err != nil {
		return ChunkResult{}, err
	}

	var (
		row *store.Object
		b   *store.Bucket
	)
	err = s.store.Update(func(st *store.State) error {
		if _, ok := st.Sessions[id]; !ok {
			return apierror.NotFound(errSessionNotFound, id)
		}
		var err error
		row, b, err = s.commitVersion(st, sess.Bucket, staged{
			name:        sess.ObjectName,
			contentType: sess.ContentType,
			metadata:    sess.Metadata,
			size:        size,
			md5:         md5Hex,
			crc32c:      crcHex,
			tmpPath:     sess.TempPath,
			pre: Preconditions{
				IfGenerationMatch:        sess.IfGenerationMatch,
				IfGenerationNotMatch:     sess.IfGenerationNotMatch,
				IfMetagenerationMatch:    sess.IfMetagenerationMatch,
				IfMetagenerationNotMatch: sess.IfMetagenerationNotMatch,
			},
		})
		if err != nil {
			return err
		}
		delete(st.Sessions, id)
		return nil
	})
	if err != nil {
		s.dropSession(id)
		return ChunkResult{}, err
	}
	s.notify(b, store.EventFinalize, row)
	return ChunkResult{Object: GenerateObject(row), Offset: size, Total: size}, nil
}

func hashFile(path string) (md5Hex, crcHex string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", errors.Wrap(err, errHashContent)
	}
	md5Sum := md5.New() // nolint:gosec
	crc := crc32.New(castagnoli)
	_, err = io.Copy(io.MultiWriter(md5Sum, crc), f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", "", errors.Wrap(err, errHashContent)
	}
	return hex.EncodeToString(md5Sum.Sum(nil)), fmt.Sprintf("%08x", crc.Sum32()), nil
}

// AbortResumableUpload terminates a session, removing its row and temp
// file.
func (s *Service) AbortResumableUpload(id string) error {
	var tmpPath string
	err := s.store.Update(func(st *store.State) error {
		sess, ok := st.Sessions[id]
		if !ok {
			return apierror.NotFound(errSessionNotFound, id)
		}
		tmpPath = sess.TempPath
		delete(st.Sessions, id)
		return nil
	})
	if err != nil {
		return err
	}
	os.Remove(tmpPath) // nolint:errcheck
	return nil
}

func (s *Service) dropSession(id string) {
	var tmpPath string
	_ = s.store.Update(func(st *store.State) error {
		if sess, ok := st.Sessions[id]; ok {
			tmpPath = sess.TempPath
			delete(st.Sessions, id)
		}
		return nil
	})
	if tmpPath != "" {
		os.Remove(tmpPath) // nolint:errcheck
	}
}
