// Package session provides persistence for scan state, allowing scans to be
// saved, resumed, and reviewed.
package session

import (
	"context"
	"time"
)

// ScanState captures everything needed to resume a scan.
type ScanState struct {
	ID              string                 `json:"id"`
	TargetURL       string                 `json:"target_url"`
	Target          interface{}            `json:"target"`          // Serialized ScanTarget
	Vulnerabilities []interface{}          `json:"vulnerabilities"` // Serialized Vulnerabilities
	DBMS            string                 `json:"dbms"`
	DBMSVersion     string                 `json:"dbms_version"`
	Config          map[string]interface{} `json:"config"`
	Progress        float64                `json:"progress"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// ScanSummary is a lightweight session overview.
type ScanSummary struct {
	ID        string    `json:"id"`
	TargetURL string    `json:"target_url"`
	Progress  float64   `json:"progress"`
	DBMS      string    `json:"dbms"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InjectionRecord is a confirmed injection point, keyed by (Endpoint,
// Parameter). It persists everything needed to resume extraction against
// the same point without re-running detection.
type InjectionRecord struct {
	Title         string
	Attempts      int
	Payload       string
	Vector        string
	Backend       string
	Parameter     string
	InjectionType string
	PayloadType   string
	Endpoint      string
	ParamType     string
	String        string
	NotString     string
	Attack01      string
	Cases         string
	Timestamp     time.Time
}

// StorageRecord is a single resumable extraction's progress, keyed by Type
// (the caller-built key identifying endpoint+parameter+query+technique).
// Value holds the characters extracted so far; Length holds the target
// length once length-discovery has completed (0 means not yet known).
type StorageRecord struct {
	Type   string
	Value  string
	Length int
}

// Store persists and retrieves scan state. It is backed by two logical
// tables: injections (confirmed injection points, keyed by endpoint+
// parameter) and storage (a general type->value key-value table used to
// resume an in-progress extraction, keyed by StorageKey). Upsert semantics
// apply to both.
type Store interface {
	Save(ctx context.Context, state *ScanState) error
	Load(ctx context.Context, targetURL string) (*ScanState, error)
	LoadByID(ctx context.Context, id string) (*ScanState, error)
	List(ctx context.Context) ([]*ScanSummary, error)
	Delete(ctx context.Context, id string) error

	// UpsertInjection persists a confirmed injection point, keyed by
	// (rec.Endpoint, rec.Parameter). A prior record for the same key is
	// replaced entirely.
	UpsertInjection(ctx context.Context, rec *InjectionRecord) error
	// FetchInjection retrieves a previously confirmed injection point by
	// its (endpoint, parameter) key. Returns (nil, nil) if absent.
	FetchInjection(ctx context.Context, endpoint, parameter string) (*InjectionRecord, error)

	// UpsertStorage persists (or replaces) an in-progress extraction's
	// partial value and discovered length, keyed by rec.Type.
	UpsertStorage(ctx context.Context, rec *StorageRecord) error
	// FetchStorage retrieves a previously persisted extraction by its key.
	// Returns (nil, nil) if absent.
	FetchStorage(ctx context.Context, key string) (*StorageRecord, error)

	Close() error
}

// StorageKey builds the storage-table key for a single extraction,
// identifying it by the injection point, the SQL expression being
// extracted, and the technique performing the extraction. Resuming a scan
// with the same endpoint/parameter/query/technique reuses the same key and
// therefore the same partial progress.
func StorageKey(endpoint, parameter, query, technique string) string {
	return endpoint + "|" + parameter + "|" + query + "|" + technique
}
