package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tillbook/api/internal/archive"
	"tillbook/api/internal/auth"
	"tillbook/api/internal/backup"
	"tillbook/api/internal/config"
	"tillbook/api/internal/email"
	"tillbook/api/internal/export"
	"tillbook/api/internal/generate"
	"tillbook/api/internal/localstore"
	"tillbook/api/internal/media"
	"tillbook/api/internal/metrics"
	"tillbook/api/internal/search"
	"tillbook/api/internal/session"
	"tillbook/api/internal/store"
	"tillbook/api/internal/syncer"
)

type Session struct {
	Token     string
	UserID    string
	Email     string
	Name      string
	JTI       string
	ExpiresAt time.Time
}

type identityVerifier interface {
	Verify(string) (auth.Identity, error)
}

type sessionStore interface {
	Save(ctx context.Context, sessionHash string, data session.Session, expiresAt time.Time) error
	Lookup(ctx context.Context, sessionHash string) (session.Session, error)
	Revoke(ctx context.Context, sessionHash string) error
}

type archiveService interface {
	syncer.Archiver
	History(userID string, limit int) ([]archive.Entry, error)
	Get(userID, hash string) (backup.Normalized, error)
}

type mailer interface {
	IsConfigured() bool
	Send(email.Message) error
}

type uploader interface {
	Put(ctx context.Context, userID string, kind media.Kind, name, contentType string, r io.Reader) (media.Upload, error)
}

// Deps are the collaborators of Service. Archive, Search, Media, Mailer,
// Generator and Metrics are optional.
type Deps struct {
	Docs      syncer.DocumentStore
	Ping      func(context.Context) error
	Sessions  sessionStore
	Identity  identityVerifier
	Slots     SlotFactory
	Archive   archiveService
	Search    *search.Service
	Media     uploader
	Mailer    mailer
	Generator *generate.Gateway
	Export    *export.Service
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// SyncFailure is a rejected push as reported to the client.
type SyncFailure struct {
	OpID       string           `json:"opId"`
	Collection store.Collection `json:"collection"`
	DocID      string           `json:"docId"`
	Kind       string           `json:"kind"`
	Error      string           `json:"error"`
	At         time.Time        `json:"at"`
}

const maxRecentFailures = 20

type Service struct {
	cfg       config.Config
	logger    *zap.Logger
	ping      func(context.Context) error
	sessions  sessionStore
	identity  identityVerifier
	slots     SlotFactory
	syncer    *syncer.Syncer
	worker    *syncer.Worker
	archive   archiveService
	search    *search.Service
	media     uploader
	mailer    mailer
	generator *generate.Gateway
	export    *export.Service
	metrics   *metrics.Metrics
	now       func() time.Time

	baseCtx   context.Context
	stop      context.CancelFunc
	openLocks sync.Map

	mu         sync.Mutex
	workspaces map[string]*workspace
	failures   map[string][]SyncFailure
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	slots := deps.Slots
	if slots == nil {
		slots = MemorySlots()
	}
	exporter := deps.Export
	if exporter == nil {
		exporter = export.NewService(cfg.ExportLocale, logger)
	}
	baseCtx, stop := context.WithCancel(context.Background())

	s := &Service{
		cfg:        cfg,
		logger:     logger,
		ping:       deps.Ping,
		sessions:   deps.Sessions,
		identity:   deps.Identity,
		slots:      slots,
		archive:    deps.Archive,
		search:     deps.Search,
		media:      deps.Media,
		mailer:     deps.Mailer,
		generator:  deps.Generator,
		export:     exporter,
		metrics:    deps.Metrics,
		now:        time.Now,
		baseCtx:    baseCtx,
		stop:       stop,
		workspaces: make(map[string]*workspace),
		failures:   make(map[string][]SyncFailure),
	}

	opts := []syncer.Option{syncer.WithNotifier(s.recordFailure), syncer.WithMetrics(deps.Metrics)}
	if deps.Archive != nil {
		opts = append(opts, syncer.WithArchive(deps.Archive))
	}
	s.syncer = syncer.New(deps.Docs, logger.Named("syncer"), opts...)
	s.worker = syncer.NewWorker(s.syncer, cfg.SyncInterval, logger.Named("worker"))
	return s
}

// Run flushes pending local changes in the background until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	return s.worker.Run(ctx)
}

func (s *Service) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

func (s *Service) sessionTTL() time.Duration {
	if s.cfg.SessionTTL > 0 {
		return s.cfg.SessionTTL
	}
	return auth.SessionTTL
}

// Login exchanges an identity provider token for a session credential.
func (s *Service) Login(ctx context.Context, idToken string) (Session, error) {
	if s.identity == nil || s.sessions == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication is not configured", nil)
	}
	identity, err := s.identity.Verify(strings.TrimSpace(idToken))
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	expiresAt := now.Add(s.sessionTTL())
	jti := uuid.NewString()

	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), auth.Claims{
		Sub:   identity.Subject,
		Name:  identity.Name,
		Email: identity.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	record := session.Session{UserID: identity.Subject, Email: identity.Email, Name: identity.Name, CreatedAt: now.UTC()}
	if err := s.sessions.Save(ctx, auth.HashToken(jti), record, expiresAt); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("session issued", zap.String("user_id", identity.Subject))
	return Session{
		Token:     token,
		UserID:    identity.Subject,
		Email:     identity.Email,
		Name:      identity.Name,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	if s.sessions == nil {
		return Session{}, auth.ErrInvalidToken
	}
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Session{}, err
	}
	record, err := s.sessions.Lookup(ctx, auth.HashToken(claims.JTI))
	if errors.Is(err, session.ErrSessionNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if record.UserID != claims.Sub {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Email:     record.Email,
		Name:      record.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session) error {
	if s.sessions == nil || sess.JTI == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, auth.HashToken(sess.JTI))
}

func parseCollection(name string) (store.Collection, error) {
	c, ok := store.ParseCollection(name)
	if !ok {
		return "", errUnknownCollection
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, userID, collection string) ([]store.Document, error) {
	c, err := parseCollection(collection)
	if err != nil {
		return nil, err
	}
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	return local.List(c), nil
}

func (s *Service) Get(ctx context.Context, userID, collection, id string) (store.Document, error) {
	c, err := parseCollection(collection)
	if err != nil {
		return nil, err
	}
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	doc, ok := local.Get(c, id)
	if !ok {
		return nil, errRecordNotFound
	}
	return doc, nil
}

// Add validates doc, stores it locally and schedules the remote write.
func (s *Service) Add(ctx context.Context, userID, collection string, doc store.Document) (store.Document, error) {
	c, err := parseCollection(collection)
	if err != nil {
		return nil, err
	}
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c == store.Invoices {
		doc = snapshotCustomer(local, doc)
	}
	prepared, err := store.PrepareDocument(c, doc)
	if err != nil {
		return nil, err
	}
	if err := checkReferences(local, c, prepared); err != nil {
		return nil, err
	}

	record := local.Add(ctx, c, prepared)
	s.afterWrite(userID, c, record)
	return record, nil
}

// Update merges partial into the record. Invoice amounts are recalculated
// from the merged result.
func (s *Service) Update(ctx context.Context, userID, collection, id string, partial store.Document) (store.Document, error) {
	c, err := parseCollection(collection)
	if err != nil {
		return nil, err
	}
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	existing, ok := local.Get(c, id)
	if !ok {
		return nil, errRecordNotFound
	}

	patch := partial.Clone()
	delete(patch, "id")
	prepared, err := store.PrepareDocument(c, existing.Merge(patch))
	if err != nil {
		return nil, err
	}
	if len(patch) > 0 {
		if err := checkReferences(local, c, prepared, slices.Collect(maps.Keys(patch))...); err != nil {
			return nil, err
		}
	}
	if c == store.Invoices {
		for _, key := range []string{"items", "subtotal", "total", "status"} {
			patch[key] = prepared[key]
		}
	}

	record, ok := local.Update(ctx, c, id, patch)
	if !ok {
		return nil, errRecordNotFound
	}
	s.afterWrite(userID, c, record)
	return record, nil
}

func (s *Service) Remove(ctx context.Context, userID, collection, id string) error {
	c, err := parseCollection(collection)
	if err != nil {
		return err
	}
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return err
	}
	if !local.Remove(ctx, c, id) {
		return errRecordNotFound
	}
	if s.search != nil {
		s.search.DeleteDocument(userID, c, id)
	}
	s.worker.Trigger(userID)
	return nil
}

func (s *Service) afterWrite(userID string, c store.Collection, record store.Document) {
	if s.search != nil {
		s.search.IndexDocument(userID, c, record)
	}
	s.worker.Trigger(userID)
}

// snapshotCustomer copies the customer's current name and email onto a new
// invoice unless the caller supplied them.
// checkReferences rejects a product or category whose keys do not resolve in
// the working copy.
func checkReferences(local *localstore.Store, c store.Collection, doc store.Document, fields ...string) error {
	if c != store.Products && c != store.Categories {
		return nil
	}
	return store.CheckWrite(local.Snapshot(), c, doc, fields...)
}

func snapshotCustomer(local *localstore.Store, doc store.Document) store.Document {
	customerID := doc.String("customerId")
	if customerID == "" || (doc.Has("customerName") && doc.Has("customerEmail")) {
		return doc
	}
	customer, ok := local.Get(store.Customers, customerID)
	if !ok {
		return doc
	}
	out := doc.Clone()
	if !out.Has("customerName") {
		out["customerName"] = customer.String("name")
	}
	if !out.Has("customerEmail") {
		out["customerEmail"] = customer.String("email")
	}
	return out
}

// SyncStatus lists the ops still waiting for the remote store and the most
// recent failures.
type SyncStatus struct {
	Pending  []localstore.PendingOp `json:"pending"`
	Failures []SyncFailure          `json:"failures"`
}

func (s *Service) SyncStatus(ctx context.Context, userID string) (SyncStatus, error) {
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return SyncStatus{}, err
	}
	s.mu.Lock()
	failures := append([]SyncFailure{}, s.failures[userID]...)
	s.mu.Unlock()
	return SyncStatus{Pending: local.Pending(), Failures: failures}, nil
}

func (s *Service) Flush(ctx context.Context, userID string) (syncer.FlushResult, error) {
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return syncer.FlushResult{}, err
	}
	return s.syncer.Flush(ctx, userID, local), nil
}

// recordFailure is the syncer's notifier; it only appends to memory.
func (s *Service) recordFailure(f syncer.Failure) {
	entry := SyncFailure{
		OpID:       f.Op.ID,
		Collection: f.Op.Collection,
		DocID:      f.Op.DocID,
		Kind:       string(f.Op.Kind),
		Error:      f.Err.Error(),
		At:         s.now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.failures[f.UserID], entry)
	if len(list) > maxRecentFailures {
		list = list[len(list)-maxRecentFailures:]
	}
	s.failures[f.UserID] = list
}

// Seed writes the starter dataset remotely and reloads the working copy.
// Pending local writes are pushed first; if any cannot be pushed the seed is
// refused so reloading cannot drop them.
func (s *Service) Seed(ctx context.Context, userID string) (store.Snapshot, error) {
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.syncer.Flush(ctx, userID, local)

	unlock := s.syncer.Lock(userID)
	defer unlock()
	if pending := len(local.Pending()); pending > 0 {
		return nil, domainError(http.StatusConflict, "SYNC_PENDING", "Local changes are not synced yet", map[string]int{"pending": pending})
	}
	if err := s.syncer.SeedDefaults(ctx, userID); err != nil {
		if errors.Is(err, syncer.ErrAlreadySeeded) {
			return nil, err
		}
		return nil, &syncFailed{err: err}
	}
	if err := s.rehydrate(ctx, userID, local); err != nil {
		return nil, err
	}
	return local.Snapshot(), nil
}

// Restore replaces all of the user's data with a backup payload. No flush
// runs between the remote batch and the local replace.
func (s *Service) Restore(ctx context.Context, userID string, raw []byte, confirmed bool) (syncer.RestoreResult, error) {
	if !confirmed {
		return syncer.RestoreResult{}, errConfirmRestore
	}
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return syncer.RestoreResult{}, err
	}

	unlock := s.syncer.Lock(userID)
	defer unlock()
	result, err := s.syncer.RestoreFromBackup(ctx, userID, raw)
	if err != nil {
		if errors.Is(err, backup.ErrInvalidPayload) {
			return syncer.RestoreResult{}, err
		}
		return syncer.RestoreResult{}, &syncFailed{err: err}
	}

	before := local.Snapshot()
	after := result.Payload.Snapshot()
	local.Replace(ctx, after)
	if s.search != nil {
		s.search.ReplaceUser(userID, before, after)
	}
	return result, nil
}

// Backup exports the working copy as a backup payload.
func (s *Service) Backup(ctx context.Context, userID string) ([]byte, error) {
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	return backup.FromSnapshot(local.Snapshot()).Marshal()
}

func (s *Service) BackupHistory(userID string, limit int) ([]archive.Entry, error) {
	if s.archive == nil {
		return []archive.Entry{}, nil
	}
	return s.archive.History(userID, limit)
}

func (s *Service) ArchivedBackup(userID, hash string) (backup.Normalized, error) {
	if s.archive == nil {
		return backup.Normalized{}, archive.ErrNoHistory
	}
	return s.archive.Get(userID, hash)
}

func (s *Service) ExportCSV(ctx context.Context, userID, collection string) (*export.Result, error) {
	c, err := parseCollection(collection)
	if err != nil {
		return nil, err
	}
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.export.CollectionCSV(c, local.List(c))
}

// loadInvoice returns the invoice and the user's first store, used as
// letterhead.
func (s *Service) loadInvoice(ctx context.Context, userID, invoiceID string) (store.Invoice, *store.Store, error) {
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return store.Invoice{}, nil, err
	}
	doc, ok := local.Get(store.Invoices, invoiceID)
	if !ok {
		return store.Invoice{}, nil, errRecordNotFound
	}
	invoice, err := store.Decode[store.Invoice](doc)
	if err != nil {
		return store.Invoice{}, nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}

	var letterhead *store.Store
	if stores := local.List(store.Stores); len(stores) > 0 {
		if st, err := store.Decode[store.Store](stores[0]); err == nil {
			letterhead = &st
		}
	}
	return invoice, letterhead, nil
}

func (s *Service) InvoicePDF(ctx context.Context, userID, invoiceID string) (*export.Result, error) {
	invoice, letterhead, err := s.loadInvoice(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}
	return s.export.InvoicePDF(ctx, invoice, letterhead)
}

// EmailInvoice sends the invoice to the customer email captured on it. The
// PDF is attached when Chrome is available.
func (s *Service) EmailInvoice(ctx context.Context, userID, invoiceID string) (string, error) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return "", domainError(http.StatusServiceUnavailable, "EMAIL_UNAVAILABLE", "Email is not configured", nil)
	}
	invoice, letterhead, err := s.loadInvoice(ctx, userID, invoiceID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(invoice.CustomerEmail) == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invoice has no customer email", nil)
	}

	html, err := s.export.InvoiceHTML(invoice, letterhead)
	if err != nil {
		return "", err
	}
	number := invoice.InvoiceNumber
	if number == "" {
		number = invoice.ID
	}
	msg := email.Message{
		To:      []string{invoice.CustomerEmail},
		Subject: "Invoice " + number,
		Text:    fmt.Sprintf("Invoice %s for %.2f is attached.", number, invoice.Total),
		HTML:    html,
	}
	if letterhead != nil && letterhead.Name != "" {
		msg.Subject += " from " + letterhead.Name
	}

	pdf, err := s.export.InvoicePDF(ctx, invoice, letterhead)
	switch {
	case err == nil:
		msg.Attachments = append(msg.Attachments, email.Attachment{Filename: pdf.Filename, ContentType: pdf.MimeType, Data: pdf.Data})
	case errors.Is(err, export.ErrPDFDependencyMissing):
		s.logger.Info("sending invoice without pdf", zap.String("invoice_id", invoice.ID))
	default:
		return "", err
	}

	if err := s.mailer.Send(msg); err != nil {
		return "", err
	}
	s.logger.Info("invoice emailed", zap.String("user_id", userID), zap.String("invoice_id", invoice.ID))
	return invoice.CustomerEmail, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil || strings.TrimSpace(q.Text) == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) Upload(ctx context.Context, userID string, kind media.Kind, name, contentType string, r io.Reader) (media.Upload, error) {
	if s.media == nil {
		return media.Upload{}, domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "Uploads are not configured", nil)
	}
	return s.media.Put(ctx, userID, kind, name, contentType, r)
}

func refsOf(docs []store.Document) []generate.Ref {
	refs := make([]generate.Ref, 0, len(docs))
	for _, doc := range docs {
		refs = append(refs, generate.Ref{ID: doc.ID(), Name: doc.String("name")})
	}
	return refs
}

// ExtractMaterials fills in the user's products, units and categories so
// the generator can match extracted materials against them.
func (s *Service) ExtractMaterials(ctx context.Context, userID string, req generate.MaterialsRequest) (generate.MaterialsResult, error) {
	local, err := s.workspace(ctx, userID)
	if err != nil {
		return generate.MaterialsResult{}, err
	}
	req.Products = refsOf(local.List(store.Products))
	req.Units = refsOf(local.List(store.Units))
	req.Categories = refsOf(local.List(store.Categories))
	return s.generator.ExtractMaterials(ctx, req), nil
}
