package dossier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tylr-r/helix/internal/domain"
	"github.com/tylr-r/helix/internal/reqctx"
)

// Store holds the dossier mirror and the legacy personality notes.
type Store interface {
	GetDossier(ctx context.Context, userID string) (domain.DossierMapping, bool, error)
	PutDossier(ctx context.Context, userID string, m domain.DossierMapping) error
	GetPersonality(ctx context.Context, userID string) (string, error)
}

// FileStore uploads dossier files so the reasoning backend can search them.
type FileStore interface {
	UploadFile(ctx context.Context, name string, content []byte) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
	AttachFile(ctx context.Context, vectorStoreID, fileID string) (string, error)
	DetachFile(ctx context.Context, vectorStoreID, vectorStoreFileID string) error
}

type Service struct {
	store         Store
	files         FileStore
	vectorStoreID string
	now           func() time.Time
}

// NewService creates a dossier service. files may be nil, in which case only
// the mirror in store is maintained.
func NewService(store Store, files FileStore, vectorStoreID string) (*Service, error) {
	if store == nil {
		return nil, errors.New("dossier: store must not be nil")
	}
	return &Service{
		store:         store,
		files:         files,
		vectorStoreID: strings.TrimSpace(vectorStoreID),
		now:           time.Now,
	}, nil
}

// Snapshot returns the text the reply pipeline shows the model as long-term
// memory: the dossier if one exists, otherwise the legacy personality notes.
func (s *Service) Snapshot(ctx context.Context, userID string) (string, error) {
	m, ok, err := s.store.GetDossier(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("dossier: snapshot: %w", err)
	}
	if ok && strings.TrimSpace(m.Content) != "" {
		return m.Content, nil
	}
	p, err := s.store.GetPersonality(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("dossier: snapshot: %w", err)
	}
	return p, nil
}

// Apply appends one bullet per function call and persists the result once.
// Calls that cannot be converted are logged and skipped. It returns how many
// calls were applied. Applying the same call twice adds two bullets.
func (s *Service) Apply(ctx context.Context, userID, name string, calls ...domain.OutputItem) (int, error) {
	log := reqctx.Logger(ctx).With("user_id", userID)

	type pending struct {
		section Section
		entry   string
	}
	var todo []pending
	for _, call := range calls {
		section, entry, err := Entry(call.Name, call.Arguments)
		if err != nil {
			log.Warn("skipping dossier function call", "function", call.Name, "err", err)
			continue
		}
		todo = append(todo, pending{section, entry})
	}
	if len(todo) == 0 {
		return 0, nil
	}

	prev, exists, err := s.store.GetDossier(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("dossier: load: %w", err)
	}
	doc := prev.Content
	if !exists || strings.TrimSpace(doc) == "" {
		log.Info("creating dossier")
		if doc, err = NewDocument(userID, name); err != nil {
			return 0, err
		}
	}

	for _, p := range todo {
		if doc, err = AppendEntry(doc, p.section, p.entry); err != nil {
			return 0, err
		}
		log.Info("dossier updated", "section", p.section)
	}
	if err := Validate(doc); err != nil {
		return 0, fmt.Errorf("dossier: refusing to persist: %w", err)
	}
	if err := s.persist(ctx, userID, doc, prev); err != nil {
		return 0, err
	}
	return len(todo), nil
}

// persist uploads doc as a new file, swaps it into the vector store and
// writes the mirror. File store failures are logged; the mirror is always
// written so the content survives an unavailable file API.
func (s *Service) persist(ctx context.Context, userID, doc string, prev domain.DossierMapping) error {
	defer reqctx.Since(ctx, time.Now(), "persistDossier")
	log := reqctx.Logger(ctx).With("user_id", userID)

	next := domain.DossierMapping{
		Content:           doc,
		FileID:            prev.FileID,
		VectorStoreFileID: prev.VectorStoreFileID,
	}

	if s.files != nil {
		name := "dossier-" + userID + "-" + strconv.FormatInt(s.now().UnixMilli(), 10) + ".md"
		fileID, err := s.files.UploadFile(ctx, name, []byte(doc))
		if err != nil {
			log.Warn("dossier upload failed, keeping previous file", "err", err)
		} else {
			next.FileID = fileID
			next.VectorStoreFileID = ""
			s.swapFiles(ctx, prev, &next)
		}
	}

	if err := s.store.PutDossier(ctx, userID, next); err != nil {
		return fmt.Errorf("dossier: write mirror: %w", err)
	}
	return nil
}

func (s *Service) swapFiles(ctx context.Context, prev domain.DossierMapping, next *domain.DossierMapping) {
	log := reqctx.Logger(ctx)

	if s.vectorStoreID != "" {
		if prev.VectorStoreFileID != "" {
			if err := s.files.DetachFile(ctx, s.vectorStoreID, prev.VectorStoreFileID); err != nil {
				log.Warn("failed to detach old dossier from vector store", "err", err, "vector_store_file_id", prev.VectorStoreFileID)
			}
		}
		vsFileID, err := s.files.AttachFile(ctx, s.vectorStoreID, next.FileID)
		if err != nil {
			log.Warn("failed to attach dossier to vector store", "err", err, "file_id", next.FileID)
		} else {
			next.VectorStoreFileID = vsFileID
		}
	}

	if prev.FileID != "" && prev.FileID != next.FileID {
		if err := s.files.DeleteFile(ctx, prev.FileID); err != nil {
			log.Warn("failed to delete old dossier file", "err", err, "file_id", prev.FileID)
		}
	}
}
