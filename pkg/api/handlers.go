package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lesaloon/taric/pkg/audit"
	"github.com/lesaloon/taric/pkg/auth"
	"github.com/lesaloon/taric/pkg/contracts"
	"github.com/lesaloon/taric/pkg/crypto"
	"github.com/lesaloon/taric/pkg/observability"
	"github.com/lesaloon/taric/pkg/verifier"
)

const maxEntryBody = 1 << 20 // 1MB

// Service bundles the collaborators behind the HTTP surface.
type Service struct {
	Verifier *verifier.Verifier
	Signer   crypto.AckSigner
	Log      audit.EntryLog          // optional
	Exporter *audit.Exporter         // optional
	Packs    PackSink                // optional
	Tokens   *auth.TokenManager      // optional; export requires it
	Obs      *observability.Provider // optional
	Schema   *jsonschema.Schema
	Logger   *slog.Logger

	// Now is the receipt clock, injectable for tests.
	Now func() int64
}

// PackSink is the slice of the artifacts store the API needs.
type PackSink interface {
	Store(ctx context.Context, name string, data []byte) (string, error)
}

func (s *Service) now() int64 {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().Unix()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HandleEntries handles POST /entries (ingest) and GET /entries (dump the
// processed-entry log).
func (s *Service) HandleEntries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.ingestEntry(w, r)
	case http.MethodGet:
		s.listEntries(w, r)
	default:
		WriteMethodNotAllowed(w)
	}
}

func (s *Service) ingestEntry(w http.ResponseWriter, r *http.Request) {
	now := s.now()

	r.Body = http.MaxBytesReader(w, r.Body, maxEntryBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeAck(w, r, nil, s.failureAck("", "error:Malformed:body read", now))
		return
	}

	entry, verr := s.decodeEntry(body)
	if verr != nil {
		declared := ""
		if entry != nil {
			declared = entry.EntryHash
		}
		s.writeAck(w, r, entry, s.failureAck(declared, verr.StatusString(), now))
		return
	}

	ack, err := s.Verifier.ProcessEntry(entry, now)
	if err != nil {
		var ve *verifier.VerifyError
		if errors.As(err, &ve) {
			if s.Obs != nil {
				s.Obs.RecordRejected(r.Context(), string(ve.Kind))
			}
			s.writeAck(w, r, entry, s.failureAck(entry.EntryHash, ve.StatusString(), now))
			return
		}
		WriteInternal(w, err)
		return
	}
	if s.Obs != nil {
		s.Obs.RecordAccepted(r.Context(), entry.DeviceID)
	}
	s.writeAck(w, r, entry, ack)
}

// decodeEntry validates the raw JSON against the wire schema and decodes it.
// All failures map to Malformed; a decoded-but-invalid entry is returned
// alongside the error so the failure ack can echo its declared hash.
func (s *Service) decodeEntry(body []byte) (*contracts.LogEntry, *verifier.VerifyError) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, verifier.NewMalformed("invalid json")
	}
	if s.Schema != nil {
		if err := s.Schema.Validate(raw); err != nil {
			var entry contracts.LogEntry
			_ = json.Unmarshal(body, &entry)
			return &entry, verifier.NewMalformed("schema validation failed")
		}
	}
	var entry contracts.LogEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, verifier.NewMalformed(err.Error())
	}
	return &entry, nil
}

func (s *Service) failureAck(entryID, status string, now int64) *contracts.Ack {
	signerID := ""
	if s.Signer != nil {
		signerID = s.Signer.SignerID()
	}
	// Failure acks are unsigned: the server only attests entries it accepted.
	return &contracts.Ack{
		EntryID:        entryID,
		NewEntryHash:   entryID,
		Status:         status,
		Timestamp:      now,
		ServerSignerID: signerID,
	}
}

// writeAck records the processing outcome and answers 200 with the ack.
func (s *Service) writeAck(w http.ResponseWriter, r *http.Request, entry *contracts.LogEntry, ack *contracts.Ack) {
	if s.Log != nil && entry != nil {
		if err := s.Log.Record(r.Context(), entry, ack.Status, ack.Timestamp); err != nil {
			s.logger().Warn("entry log append failed", "error", err, "device_id", entry.DeviceID)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ack)
}

func (s *Service) listEntries(w http.ResponseWriter, r *http.Request) {
	if s.Log == nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
		return
	}
	records, err := s.Log.Entries(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

// HandleHealth handles GET /health.
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "ok")
}

// HandleExport handles POST /export: builds an evidence pack and stores it
// in the configured sink. Requires a bearer operator token.
func (s *Service) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.Tokens == nil || s.Exporter == nil || s.Packs == nil {
		WriteError(w, http.StatusNotImplemented, "Not Implemented", "export is not configured on this deployment")
		return
	}
	claims, err := bearerClaims(r, s.Tokens)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}

	now := s.now()
	zipBytes, pack, err := s.Exporter.GeneratePack(r.Context(), now)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	name := fmt.Sprintf("taric-pack-%d-%s.zip", now, pack.Checksum[:12])
	location, err := s.Packs.Store(r.Context(), name, zipBytes)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	pack.Location = location

	s.logger().Info("evidence pack exported",
		"operator", claims.Subject, "records", pack.RecordCount, "location", location)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pack)
}
