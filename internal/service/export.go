package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ravendoc/internal/etag"
	"ravendoc/internal/jsonobj"
	"ravendoc/internal/model"
	"ravendoc/internal/storage"
)

const (
	defaultBatchSize    = 128
	defaultExportPrefix = "exports"
	downloadExpiry      = time.Hour

	dumpDocsKey     = "Docs"
	dumpContentType = "application/json"
	dumpTimeLayout  = "20060102T150405Z"
)

// ExportResult describes a dump written to storage.
type ExportResult struct {
	ObjectKey   string
	Count       int
	LastEtag    *etag.Etag
	DownloadURL string
}

// ImportResult counts what an import did. Skipped entries had no key.
type ImportResult struct {
	ObjectKey string
	Imported  int
	Skipped   int
}

// Export pages through the repository and streams {"Docs":[...]} straight into object storage.
func (s *documentService) Export(ctx context.Context) (*ExportResult, error) {
	ctx, span := tracer.Start(ctx, "DocumentService.Export")
	defer span.End()

	key := path.Join(s.cfg.Prefix, fmt.Sprintf("%s-%s.json", s.now().UTC().Format(dumpTimeLayout), uuid.NewString()))
	span.SetAttributes(attribute.String("export.object_key", key))

	res := &ExportResult{ObjectKey: key}
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := s.writeDump(ctx, pw, res)
		pw.CloseWithError(err)
		done <- err
	}()

	_, putErr := s.store.Put(ctx, key, pr, storage.PutObjectOptions{
		Size:        -1,
		ContentType: dumpContentType,
	})
	pr.Close()
	dumpErr := <-done

	if putErr != nil {
		return nil, fail(span, fmt.Errorf("upload dump: %w", putErr))
	}
	if dumpErr != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fail(span, fmt.Errorf("write dump failed: %v; rollback delete failed: %v", dumpErr, delErr))
		}
		return nil, fail(span, fmt.Errorf("write dump: %w", dumpErr))
	}

	url, err := s.store.PresignGet(ctx, key, downloadExpiry)
	if err != nil {
		return nil, fail(span, fmt.Errorf("presign dump: %w", err))
	}
	res.DownloadURL = url
	span.SetAttributes(attribute.Int("export.count", res.Count))
	return res, nil
}

func (s *documentService) writeDump(ctx context.Context, w io.Writer, res *ExportResult) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(`{` + strconv.Quote(dumpDocsKey) + `:[`); err != nil {
		return err
	}

	var after *etag.Etag
	for {
		docs, err := s.repo.ListAfter(ctx, after, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("list documents after %v: %w", after, err)
		}
		for _, doc := range docs {
			if err := writeEnvelope(bw, doc, res.Count > 0); err != nil {
				return fmt.Errorf("document %s: %w", doc.Key(), err)
			}
			res.Count++
			if tag := doc.Etag(); tag != nil && (res.LastEtag == nil || tag.Compare(*res.LastEtag) > 0) {
				last := *tag
				res.LastEtag = &last
			}
		}
		if len(docs) < s.cfg.BatchSize || res.LastEtag == nil {
			break
		}
		after = res.LastEtag
	}

	if _, err := bw.WriteString(`]}`); err != nil {
		return err
	}
	return bw.Flush()
}

func writeEnvelope(w *bufio.Writer, doc *model.Document, comma bool) error {
	env, err := doc.ToJSON()
	if err != nil {
		return err
	}
	b, err := env.MarshalJSON()
	if err != nil {
		return err
	}
	if comma {
		if err := w.WriteByte(','); err != nil {
			return err
		}
	}
	_, err = w.Write(b)
	return err
}

// Import reads a dump and re-puts every entry that carries a key.
func (s *documentService) Import(ctx context.Context, objectKey string) (*ImportResult, error) {
	ctx, span := tracer.Start(ctx, "DocumentService.Import", trace.WithAttributes(attribute.String("import.object_key", objectKey)))
	defer span.End()

	if objectKey == "" {
		return nil, fail(span, ErrObjectKeyRequired)
	}

	rc, _, err := s.store.Get(ctx, objectKey)
	if err != nil {
		return nil, fail(span, fmt.Errorf("download dump: %w", err))
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fail(span, fmt.Errorf("read dump: %w", err))
	}
	dump, err := jsonobj.Parse(data)
	if err != nil {
		return nil, fail(span, fmt.Errorf("%w: %v", ErrInvalidDump, err))
	}
	raw, ok := dump.Get(dumpDocsKey)
	if !ok {
		return nil, fail(span, fmt.Errorf("%w: missing %s", ErrInvalidDump, dumpDocsKey))
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, fail(span, fmt.Errorf("%w: %s is not an array", ErrInvalidDump, dumpDocsKey))
	}

	res := &ImportResult{ObjectKey: objectKey}
	for i, entry := range entries {
		envelope, ok := entry.(*jsonobj.Object)
		if !ok {
			return res, fail(span, fmt.Errorf("%w: entry %d is not an object", ErrInvalidDump, i))
		}
		doc, err := model.ParseDocument(envelope)
		if err != nil {
			return res, fail(span, fmt.Errorf("%w: entry %d: %v", ErrInvalidDump, i, err))
		}
		if doc.Key() == "" {
			res.Skipped++
			continue
		}
		if _, err := s.Put(ctx, doc.Key(), doc.Body(), doc.EnsureMetadata(), nil); err != nil {
			return res, fail(span, fmt.Errorf("entry %d: %w", i, err))
		}
		res.Imported++
	}
	span.SetAttributes(attribute.Int("import.imported", res.Imported), attribute.Int("import.skipped", res.Skipped))
	return res, nil
}

func (s *documentService) ListExports(ctx context.Context) ([]storage.ObjectInfo, error) {
	ctx, span := tracer.Start(ctx, "DocumentService.ListExports")
	defer span.End()

	objects, err := s.store.List(ctx, s.cfg.Prefix+"/")
	if err != nil {
		return nil, fail(span, fmt.Errorf("list dumps: %w", err))
	}
	return objects, nil
}
