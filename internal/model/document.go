package model

import (
	"errors"
	"fmt"
	"time"

	"ravendoc/internal/datefmt"
	"ravendoc/internal/etag"
	"ravendoc/internal/jsonobj"
)

// Metadata keys written or read by the document envelope.
const (
	MetadataKey             = "@metadata"
	EtagKey                 = "@etag"
	IDKey                   = "@id"
	LastModifiedKey         = "Last-Modified"
	RavenLastModifiedKey    = "Raven-Last-Modified"
	NonAuthoritativeInfoKey = "Non-Authoritative-Information"
	TempIndexScoreKey       = "Temp-Index-Score"
)

// ErrPrecondition is returned by ToJSON when the body or metadata is unset.
var ErrPrecondition = errors.New("document precondition violated")

// Info is the metadata view of a stored document.
type Info interface {
	Key() string
	Etag() *etag.Etag
	LastModified() *time.Time
	NonAuthoritative() *bool
	EnsureMetadata() *jsonobj.Object
}

// Document is one stored or retrieved document: its body, metadata and version token.
// It is a plain mutable value owned by a single caller; nothing in it is synchronized.
type Document struct {
	body             *jsonobj.Object
	metadata         *jsonobj.Object
	key              string
	nonAuthoritative *bool
	etag             *etag.Etag
	lastModified     *time.Time
	tempIndexScore   *float32
}

var _ Info = (*Document)(nil)

// NewDocument stores every argument as given. The temp index score can only be set afterwards.
func NewDocument(body, metadata *jsonobj.Object, key string, nonAuthoritative *bool, tag *etag.Etag, lastModified *time.Time) *Document {
	return &Document{
		body:             body,
		metadata:         metadata,
		key:              key,
		nonAuthoritative: nonAuthoritative,
		etag:             tag,
		lastModified:     lastModified,
	}
}

// Body returns the body, or a fresh empty object when none is set. The substitute is not stored.
func (d *Document) Body() *jsonobj.Object {
	if d.body == nil {
		return jsonobj.New()
	}
	return d.body
}

func (d *Document) HasBody() bool { return d.body != nil }

func (d *Document) SetBody(body *jsonobj.Object) { d.body = body }

// EnsureMetadata returns the metadata, creating and storing an empty case-insensitive object first if none is set.
func (d *Document) EnsureMetadata() *jsonobj.Object {
	if d.metadata == nil {
		d.metadata = jsonobj.NewCaseInsensitive()
	}
	return d.metadata
}

func (d *Document) HasMetadata() bool { return d.metadata != nil }

func (d *Document) SetMetadata(metadata *jsonobj.Object) { d.metadata = metadata }

func (d *Document) Key() string { return d.key }

func (d *Document) SetKey(key string) { d.key = key }

// NonAuthoritative is true when the document came from a replica that may be stale; nil when unknown.
func (d *Document) NonAuthoritative() *bool { return d.nonAuthoritative }

func (d *Document) SetNonAuthoritative(v *bool) { d.nonAuthoritative = v }

func (d *Document) Etag() *etag.Etag { return d.etag }

func (d *Document) SetEtag(tag *etag.Etag) { d.etag = tag }

func (d *Document) LastModified() *time.Time { return d.lastModified }

func (d *Document) SetLastModified(t *time.Time) { d.lastModified = t }

// TempIndexScore is only set for documents returned by a ranked query.
func (d *Document) TempIndexScore() *float32 { return d.tempIndexScore }

func (d *Document) SetTempIndexScore(score *float32) { d.tempIndexScore = score }

// ToJSON assembles the wire envelope: a snapshot of the body with a snapshot of the metadata under @metadata.
// Body and metadata are frozen as a side effect; both must be set.
func (d *Document) ToJSON() (*jsonobj.Object, error) {
	if d.body == nil {
		return nil, fmt.Errorf("%w: body is not set", ErrPrecondition)
	}
	if d.metadata == nil {
		return nil, fmt.Errorf("%w: metadata is not set", ErrPrecondition)
	}

	d.body.EnsureSnapshotting()
	d.metadata.EnsureSnapshotting()

	doc, err := d.body.CreateSnapshot()
	if err != nil {
		return nil, err
	}
	metadata, err := d.metadata.CreateSnapshot()
	if err != nil {
		return nil, err
	}

	if d.lastModified != nil {
		if err := metadata.Set(LastModifiedKey, *d.lastModified); err != nil {
			return nil, err
		}
		if err := metadata.Set(RavenLastModifiedKey, datefmt.Format(*d.lastModified)); err != nil {
			return nil, err
		}
	}
	if d.etag != nil {
		if err := metadata.Set(EtagKey, d.etag.String()); err != nil {
			return nil, err
		}
	}
	if d.nonAuthoritative != nil && *d.nonAuthoritative {
		if err := metadata.Set(NonAuthoritativeInfoKey, true); err != nil {
			return nil, err
		}
	}
	if err := doc.Set(MetadataKey, metadata); err != nil {
		return nil, err
	}
	return doc, nil
}

// String is meant for logs only.
func (d *Document) String() string {
	tag := "<nil>"
	if d.etag != nil {
		tag = d.etag.String()
	}
	modified := "<nil>"
	if d.lastModified != nil {
		modified = d.lastModified.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("Document{body=%s, metadata=%s, key=%s, etag=%s, lastModified=%s}",
		objectString(d.body), objectString(d.metadata), d.key, tag, modified)
}

func objectString(o *jsonobj.Object) string {
	if o == nil {
		return "<nil>"
	}
	return o.String()
}
