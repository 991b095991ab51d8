package billing_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/studycoach/internal/billing"
	"github.com/kiranshivaraju/studycoach/internal/store"
	"github.com/kiranshivaraju/studycoach/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Store ---

type mockStore struct {
	plansByName map[string]*models.Plan
	plansByID   map[uuid.UUID]*models.Plan

	upserted  *models.Subscription
	upsertErr error

	extended    string
	extendStart time.Time
	extendEnd   time.Time
	extendErr   error

	cancelled string
	cancelErr error
}

func (m *mockStore) Ping(_ context.Context) error { return nil }
func (m *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (m *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (m *mockStore) GetPlanByName(_ context.Context, name string) (*models.Plan, error) {
	if p, ok := m.plansByName[name]; ok {
		return p, nil
	}
	return nil, store.ErrNotFound
}
func (m *mockStore) GetPlanByID(_ context.Context, id uuid.UUID) (*models.Plan, error) {
	if p, ok := m.plansByID[id]; ok {
		return p, nil
	}
	return nil, store.ErrNotFound
}
func (m *mockStore) GetActiveSubscription(_ context.Context, _ uuid.UUID) (*models.Subscription, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) UpsertSubscription(_ context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.upserted = sub
	return sub, nil
}
func (m *mockStore) ExtendSubscriptionPeriod(_ context.Context, providerSubID string, start, end time.Time) error {
	if m.extendErr != nil {
		return m.extendErr
	}
	m.extended = providerSubID
	m.extendStart = start
	m.extendEnd = end
	return nil
}
func (m *mockStore) CancelSubscription(_ context.Context, providerSubID string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = providerSubID
	return nil
}
func (m *mockStore) AdmitJob(_ context.Context, _ *models.Job, _ string, _ time.Time, _ int) (int, error) {
	return 0, nil
}
func (m *mockStore) GetJob(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*models.Job, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) ClaimJob(_ context.Context, _ uuid.UUID) error { return nil }
func (m *mockStore) CompleteJob(_ context.Context, _ uuid.UUID, _ json.RawMessage) error {
	return nil
}
func (m *mockStore) FailJob(_ context.Context, _ uuid.UUID, _ string) error { return nil }
func (m *mockStore) ReclaimStuckJobs(_ context.Context, _ time.Time) ([]uuid.UUID, error) {
	return nil, nil
}

// --- Mock Dedup Cache ---

type mockCache struct {
	seen    map[string]bool
	seenErr error
	marked  []string
	markErr error
}

func newMockCache() *mockCache {
	return &mockCache{seen: make(map[string]bool)}
}

func (m *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (m *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (m *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (m *mockCache) Ping(_ context.Context) error                                     { return nil }
func (m *mockCache) SeenEvent(_ context.Context, eventID string) (bool, error) {
	if m.seenErr != nil {
		return false, m.seenErr
	}
	return m.seen[eventID], nil
}
func (m *mockCache) MarkEventProcessed(_ context.Context, eventID string, _ time.Duration) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.marked = append(m.marked, eventID)
	return nil
}
func (m *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// --- helpers ---

const testSecret = "whsec_ingest_test"

func newIngestor(ms *mockStore, mc *mockCache) *billing.Ingestor {
	return billing.NewIngestor(ms, mc, billing.Config{
		WebhookSecret:      testSecret,
		SignatureTolerance: 5 * time.Minute,
		EventRetention:     72 * time.Hour,
	})
}

func plans() (*mockStore, *models.Plan, *models.Plan) {
	student := &models.Plan{ID: uuid.New(), Name: "student", MonthlyGenerationLimit: 50}
	annual := &models.Plan{ID: uuid.New(), Name: "annual", MonthlyGenerationLimit: -1}
	ms := &mockStore{
		plansByName: map[string]*models.Plan{"student": student, "annual": annual},
		plansByID:   map[uuid.UUID]*models.Plan{student.ID: student, annual.ID: annual},
	}
	return ms, student, annual
}

// signedEvent marshals the event body and produces a matching signature header.
func signedEvent(t *testing.T, id, eventType string, created time.Time, object any) ([]byte, string) {
	t.Helper()
	objJSON, err := json.Marshal(object)
	require.NoError(t, err)

	body := []byte(fmt.Sprintf(`{"id":%q,"type":%q,"created":%d,"data":{"object":%s}}`,
		id, eventType, created.Unix(), objJSON))
	return body, billing.ComputeSignatureHeader(body, testSecret, time.Now())
}

func checkoutObject(ownerID uuid.UUID, planID, subID, interval string) map[string]any {
	metadata := map[string]string{
		"owner_id": ownerID.String(),
		"plan_id":  planID,
	}
	if interval != "" {
		metadata["billing_interval"] = interval
	}
	return map[string]any{
		"id":           "cs_test_1",
		"customer":     "cus_1",
		"subscription": subID,
		"metadata":     metadata,
	}
}

// --- Tests ---

func TestIngest_RejectsBadSignature(t *testing.T) {
	ms, _, _ := plans()
	mc := newMockCache()
	ing := newIngestor(ms, mc)

	body := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	err := ing.Ingest(context.Background(), body, "t=1,v1=deadbeef")

	assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	assert.Nil(t, ms.upserted)
	assert.Empty(t, mc.marked)
}

func TestIngest_RejectsUnparseableBody(t *testing.T) {
	ms, _, _ := plans()
	ing := newIngestor(ms, newMockCache())

	body := []byte(`{not json`)
	header := billing.ComputeSignatureHeader(body, testSecret, time.Now())
	err := ing.Ingest(context.Background(), body, header)

	assert.ErrorIs(t, err, billing.ErrInvalidPayload)
}

func TestIngest_RejectsMissingEventID(t *testing.T) {
	ms, _, _ := plans()
	ing := newIngestor(ms, newMockCache())

	body := []byte(`{"id":"","type":"checkout.session.completed","created":1,"data":{"object":{}}}`)
	header := billing.ComputeSignatureHeader(body, testSecret, time.Now())
	err := ing.Ingest(context.Background(), body, header)

	assert.ErrorIs(t, err, billing.ErrInvalidPayload)
}

func TestIngest_CheckoutActivatesSubscription(t *testing.T) {
	ms, student, _ := plans()
	mc := newMockCache()
	ing := newIngestor(ms, mc)

	ownerID := uuid.New()
	created := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	body, header := signedEvent(t, "evt_checkout_1", billing.EventCheckoutCompleted,
		created, checkoutObject(ownerID, "student", "sub_100", ""))

	require.NoError(t, ing.Ingest(context.Background(), body, header))

	sub := ms.upserted
	require.NotNil(t, sub)
	assert.Equal(t, ownerID, sub.OwnerID)
	assert.Equal(t, student.ID, sub.PlanID)
	require.NotNil(t, sub.ProviderSubscriptionID)
	assert.Equal(t, "sub_100", *sub.ProviderSubscriptionID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, models.BillingIntervalMonth, sub.BillingInterval)
	assert.Equal(t, created, sub.PeriodStart)
	assert.Equal(t, created.AddDate(0, 1, 0), sub.PeriodEnd)

	assert.Equal(t, []string{"evt_checkout_1"}, mc.marked)
}

func TestIngest_CheckoutAnnualPlanGetsYearInterval(t *testing.T) {
	ms, _, annual := plans()
	ing := newIngestor(ms, newMockCache())

	created := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	body, header := signedEvent(t, "evt_checkout_2", billing.EventCheckoutCompleted,
		created, checkoutObject(uuid.New(), "annual", "sub_101", ""))

	require.NoError(t, ing.Ingest(context.Background(), body, header))

	require.NotNil(t, ms.upserted)
	assert.Equal(t, annual.ID, ms.upserted.PlanID)
	assert.Equal(t, models.BillingIntervalYear, ms.upserted.BillingInterval)
	assert.Equal(t, created.AddDate(1, 0, 0), ms.upserted.PeriodEnd)
}

func TestIngest_CheckoutExplicitIntervalWins(t *testing.T) {
	ms, _, _ := plans()
	ing := newIngestor(ms, newMockCache())

	body, header := signedEvent(t, "evt_checkout_3", billing.EventCheckoutCompleted,
		time.Now(), checkoutObject(uuid.New(), "student", "sub_102", models.BillingIntervalYear))

	require.NoError(t, ing.Ingest(context.Background(), body, header))
	assert.Equal(t, models.BillingIntervalYear, ms.upserted.BillingInterval)
}

func TestIngest_CheckoutPlanByUUID(t *testing.T) {
	ms, student, _ := plans()
	ing := newIngestor(ms, newMockCache())

	body, header := signedEvent(t, "evt_checkout_4", billing.EventCheckoutCompleted,
		time.Now(), checkoutObject(uuid.New(), student.ID.String(), "sub_103", ""))

	require.NoError(t, ing.Ingest(context.Background(), body, header))
	assert.Equal(t, student.ID, ms.upserted.PlanID)
}

func TestIngest_CheckoutMissingMetadataRejected(t *testing.T) {
	ms, _, _ := plans()
	mc := newMockCache()
	ing := newIngestor(ms, mc)

	object := map[string]any{"id": "cs_bare", "subscription": "sub_104", "metadata": map[string]string{}}
	body, header := signedEvent(t, "evt_checkout_5", billing.EventCheckoutCompleted, time.Now(), object)

	err := ing.Ingest(context.Background(), body, header)
	assert.ErrorIs(t, err, billing.ErrMissingMetadata)
	assert.Nil(t, ms.upserted)
	assert.Empty(t, mc.marked)
}

func TestIngest_CheckoutUnknownPlanRejected(t *testing.T) {
	ms, _, _ := plans()
	ing := newIngestor(ms, newMockCache())

	body, header := signedEvent(t, "evt_checkout_6", billing.EventCheckoutCompleted,
		time.Now(), checkoutObject(uuid.New(), "platinum", "sub_105", ""))

	err := ing.Ingest(context.Background(), body, header)
	assert.ErrorIs(t, err, billing.ErrMissingMetadata)
}

func TestIngest_ReplayedEventIsNoOp(t *testing.T) {
	ms, _, _ := plans()
	mc := newMockCache()
	mc.seen["evt_replay"] = true
	ing := newIngestor(ms, mc)

	body, header := signedEvent(t, "evt_replay", billing.EventCheckoutCompleted,
		time.Now(), checkoutObject(uuid.New(), "student", "sub_106", ""))

	require.NoError(t, ing.Ingest(context.Background(), body, header))
	assert.Nil(t, ms.upserted)
	assert.Empty(t, mc.marked)
}

func TestIngest_InvoicePaidExtendsPeriod(t *testing.T) {
	ms, _, _ := plans()
	mc := newMockCache()
	ing := newIngestor(ms, mc)

	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	object := map[string]any{
		"id":           "in_1",
		"subscription": "sub_100",
		"period_start": start.Unix(),
		"period_end":   end.Unix(),
	}
	body, header := signedEvent(t, "evt_invoice_1", billing.EventInvoicePaid, time.Now(), object)

	require.NoError(t, ing.Ingest(context.Background(), body, header))
	assert.Equal(t, "sub_100", ms.extended)
	assert.Equal(t, start, ms.extendStart)
	assert.Equal(t, end, ms.extendEnd)
	assert.Equal(t, []string{"evt_invoice_1"}, mc.marked)
}

func TestIngest_InvoiceBeforeCheckoutIsRetryable(t *testing.T) {
	// The processor can deliver the invoice before the checkout event that
	// creates the row; the delivery must stay retryable and unrecorded.
	ms, _, _ := plans()
	ms.extendErr = store.ErrNotFound
	mc := newMockCache()
	ing := newIngestor(ms, mc)

	object := map[string]any{
		"id":           "in_2",
		"subscription": "sub_ghost",
		"period_start": time.Now().Unix(),
		"period_end":   time.Now().AddDate(0, 1, 0).Unix(),
	}
	body, header := signedEvent(t, "evt_invoice_2", billing.EventInvoicePaid, time.Now(), object)

	err := ing.Ingest(context.Background(), body, header)
	require.Error(t, err)
	assert.NotErrorIs(t, err, billing.ErrInvalidPayload)
	assert.NotErrorIs(t, err, billing.ErrMissingMetadata)
	assert.Empty(t, mc.marked)
}

func TestIngest_InvoiceWithoutSubscriptionIgnored(t *testing.T) {
	ms, _, _ := plans()
	mc := newMockCache()
	ing := newIngestor(ms, mc)

	object := map[string]any{"id": "in_3", "subscription": ""}
	body, header := signedEvent(t, "evt_invoice_3", billing.EventInvoicePaid, time.Now(), object)

	require.NoError(t, ing.Ingest(context.Background(), body, header))
	assert.Empty(t, ms.extended)
	assert.Equal(t, []string{"evt_invoice_3"}, mc.marked)
}

func TestIngest_SubscriptionDeletedCancels(t *testing.T) {
	ms, _, _ := plans()
	mc := newMockCache()
	ing := newIngestor(ms, mc)

	object := map[string]any{"id": "sub_100"}
	body, header := signedEvent(t, "evt_del_1", billing.EventSubscriptionDeleted, time.Now(), object)

	require.NoError(t, ing.Ingest(context.Background(), body, header))
	assert.Equal(t, "sub_100", ms.cancelled)
	assert.Equal(t, []string{"evt_del_1"}, mc.marked)
}

func TestIngest_CancelUnknownSubscriptionIsIdempotent(t *testing.T) {
	ms, _, _ := plans()
	ms.cancelErr = store.ErrNotFound
	mc := newMockCache()
	ing := newIngestor(ms, mc)

	object := map[string]any{"id": "sub_never_seen"}
	body, header := signedEvent(t, "evt_del_2", billing.EventSubscriptionDeleted, time.Now(), object)

	require.NoError(t, ing.Ingest(context.Background(), body, header))
	assert.Equal(t, []string{"evt_del_2"}, mc.marked)
}

func TestIngest_UnknownEventTypeAccepted(t *testing.T) {
	ms, _, _ := plans()
	mc := newMockCache()
	ing := newIngestor(ms, mc)

	body, header := signedEvent(t, "evt_odd", "charge.refunded", time.Now(), map[string]any{"id": "ch_1"})

	require.NoError(t, ing.Ingest(context.Background(), body, header))
	assert.Equal(t, []string{"evt_odd"}, mc.marked)
}

func TestIngest_TransientStoreFailureNotRecorded(t *testing.T) {
	ms, _, _ := plans()
	ms.upsertErr = assert.AnError
	mc := newMockCache()
	ing := newIngestor(ms, mc)

	body, header := signedEvent(t, "evt_flaky", billing.EventCheckoutCompleted,
		time.Now(), checkoutObject(uuid.New(), "student", "sub_107", ""))

	err := ing.Ingest(context.Background(), body, header)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, mc.marked)
}

func TestIngest_DedupRecordingFailureStillAccepted(t *testing.T) {
	// The handler committed; a failed dedup write must not make the
	// processor redeliver into a non-idempotent path.
	ms, _, _ := plans()
	mc := newMockCache()
	mc.markErr = assert.AnError
	ing := newIngestor(ms, mc)

	body, header := signedEvent(t, "evt_markfail", billing.EventCheckoutCompleted,
		time.Now(), checkoutObject(uuid.New(), "student", "sub_108", ""))

	assert.NoError(t, ing.Ingest(context.Background(), body, header))
	assert.NotNil(t, ms.upserted)
}
