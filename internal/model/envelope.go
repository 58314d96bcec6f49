package model

import (
	"errors"
	"fmt"
	"time"

	"ravendoc/internal/datefmt"
	"ravendoc/internal/etag"
	"ravendoc/internal/jsonobj"
)

// ErrInvalidEnvelope is returned when a serialized document carries malformed system metadata.
var ErrInvalidEnvelope = errors.New("invalid document envelope")

// derivedKeys are rebuilt by ToJSON from the document fields, so ParseDocument strips them.
var derivedKeys = []string{
	EtagKey,
	LastModifiedKey,
	RavenLastModifiedKey,
	NonAuthoritativeInfoKey,
	TempIndexScoreKey,
}

// ParseDocument reads an envelope produced by ToJSON back into a Document.
// The key comes from @id in the metadata; the envelope itself is not modified.
func ParseDocument(envelope *jsonobj.Object) (*Document, error) {
	body := envelope.Clone()
	if _, err := body.Remove(MetadataKey); err != nil {
		return nil, err
	}

	metadata := jsonobj.NewCaseInsensitive()
	if raw, ok := envelope.Get(MetadataKey); ok && raw != nil {
		src, ok := raw.(*jsonobj.Object)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an object", ErrInvalidEnvelope, MetadataKey)
		}
		var err error
		src.Clone().Range(func(k string, v any) bool {
			err = metadata.Set(k, v)
			return err == nil
		})
		if err != nil {
			return nil, err
		}
	}

	doc := NewDocument(body, metadata, "", nil, nil, nil)
	if key, ok := metadata.GetString(IDKey); ok {
		doc.SetKey(key)
	}

	if raw, ok := metadata.Get(EtagKey); ok && raw != nil {
		s, _ := raw.(string)
		tag, err := etag.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		doc.SetEtag(&tag)
	}

	modified, err := lastModified(metadata)
	if err != nil {
		return nil, err
	}
	doc.SetLastModified(modified)

	if v, ok := metadata.GetBool(NonAuthoritativeInfoKey); ok {
		doc.SetNonAuthoritative(&v)
	}

	if raw, ok := metadata.Get(TempIndexScoreKey); ok {
		switch n := raw.(type) {
		case float64:
			score := float32(n)
			doc.SetTempIndexScore(&score)
		case int64:
			score := float32(n)
			doc.SetTempIndexScore(&score)
		}
	}

	for _, k := range derivedKeys {
		if _, err := metadata.Remove(k); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// lastModified prefers the legacy-formatted value because it carries the full precision.
func lastModified(metadata *jsonobj.Object) (*time.Time, error) {
	for _, key := range []string{RavenLastModifiedKey, LastModifiedKey} {
		raw, ok := metadata.Get(key)
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case time.Time:
			t := v.UTC()
			return &t, nil
		case string:
			t, err := datefmt.Parse(v)
			if err != nil {
				t, err = datefmt.ParseHTTP(v)
			}
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEnvelope, key, err)
			}
			t = t.UTC()
			return &t, nil
		default:
			return nil, fmt.Errorf("%w: %s has type %T", ErrInvalidEnvelope, key, raw)
		}
	}
	return nil, nil
}
