// Package archive streams filing documents out of IRS batch ZIP archives
// without ever holding a whole archive in memory.
package archive

import (
	"archive/zip"
	"context"
	"io"
	"iter"
	"math"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/michaelpawlus/990-beacon/internal/config"
)

type Fetcher struct {
	s3  *s3.Client
	cfg *config.Config
	log *logrus.Entry

	// sleep is swapped out in tests so retry backoff does not stall them.
	sleep func(time.Duration)
}

func NewFetcher(client *s3.Client, cfg *config.Config, log *logrus.Entry) *Fetcher {
	return &Fetcher{s3: client, cfg: cfg, log: log, sleep: time.Sleep}
}

// Documents acquires the batch archive for (year, batchID) and returns a
// lazy, single-pass sequence of (filename, raw bytes) pairs for its XML
// members. It returns nil when the archive is skipped or unavailable: a
// declared size over the configured cap, or download failure after all
// retries. The backing temp file is removed and a memory-reclaim hint
// issued on every exit path, including an early consumer break.
func (f *Fetcher) Documents(ctx context.Context, year int, batchID string) iter.Seq2[string, []byte] {
	key := f.cfg.ArchiveKey(year, batchID)
	log := f.log.WithFields(logrus.Fields{"year": year, "batch_id": batchID, "key": key})

	size, err := f.probeSize(ctx, key)
	if err != nil {
		log.WithError(err).Warn("failed to probe archive size")
		return nil
	}
	if size > f.cfg.MaxArchiveBytes {
		log.WithFields(logrus.Fields{
			"size_bytes": size,
			"max_bytes":  f.cfg.MaxArchiveBytes,
		}).Warn("archive exceeds size cap, skipping")
		return nil
	}

	path, err := f.download(ctx, key, log)
	if err != nil {
		log.WithError(err).Warn("all download attempts failed")
		return nil
	}

	return func(yield func(string, []byte) bool) {
		defer func() {
			os.Remove(path)
			debug.FreeOSMemory()
		}()

		zr, err := zip.OpenReader(path)
		if err != nil {
			log.WithError(err).Warn("corrupt archive, ending batch early")
			return
		}
		defer zr.Close()

		for _, member := range zr.File {
			if !strings.HasSuffix(member.Name, ".xml") {
				continue
			}
			data, err := readMember(member)
			if err != nil {
				log.WithError(err).WithField("member", member.Name).
					Warn("corrupt archive member, ending batch early")
				return
			}
			if !yield(memberBasename(member.Name), data) {
				return
			}
		}
	}
}

// probeSize reads the archive's declared size from object metadata only;
// no body bytes are transferred.
func (f *Fetcher) probeSize(ctx context.Context, key string) (int64, error) {
	resp, err := f.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.cfg.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, err
	}
	if resp.ContentLength == nil {
		return 0, nil
	}
	return *resp.ContentLength, nil
}

// download copies the archive to a temp file in fixed-size chunks, retrying
// with exponential backoff. Peak memory stays at one chunk regardless of
// archive size.
func (f *Fetcher) download(ctx context.Context, key string, log *logrus.Entry) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		path, err := f.downloadOnce(ctx, key)
		if err == nil {
			return path, nil
		}
		lastErr = err

		if attempt < f.cfg.MaxRetries {
			wait := time.Duration(math.Pow(float64(f.cfg.RetryBackoffBase), float64(attempt))) * time.Second
			log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"max":     f.cfg.MaxRetries,
				"wait":    wait,
			}).Warn("archive download failed, retrying")
			f.sleep(wait)
		}
	}
	return "", lastErr
}

func (f *Fetcher) downloadOnce(ctx context.Context, key string) (string, error) {
	resp, err := f.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.cfg.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp("", "beacon-archive-*.zip")
	if err != nil {
		return "", err
	}

	buf := make([]byte, f.cfg.DownloadChunkBytes)
	if _, err := io.CopyBuffer(tmp, resp.Body, buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// readMember extracts one member, materializing only that member in memory.
func readMember(member *zip.File) ([]byte, error) {
	rc, err := member.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// memberBasename strips any directory prefix a ZIP entry may carry so that
// names match the index lookup, which is keyed by bare filename.
func memberBasename(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
