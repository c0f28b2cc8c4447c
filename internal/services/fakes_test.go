package services

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/chargeup/payment-engine/internal/database"
	"github.com/chargeup/payment-engine/internal/models"
	"github.com/chargeup/payment-engine/pkg/paymob"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func validBilling() models.BillingData {
	return models.BillingData{
		FirstName:   "Mona",
		LastName:    "Adel",
		Email:       "mona@example.com",
		PhoneNumber: "01012345678",
	}
}

// ============================================================================
// ORDERS
// ============================================================================

type memOrders struct {
	mu     sync.Mutex
	orders map[string]*models.PaymentOrder
}

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[string]*models.PaymentOrder)}
}

func cloneOrder(o *models.PaymentOrder) *models.PaymentOrder {
	c := *o
	return &c
}

func (m *memOrders) put(o *models.PaymentOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	m.orders[o.MerchantOrderID] = cloneOrder(o)
}

func (m *memOrders) get(merchantOrderID string) *models.PaymentOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[merchantOrderID]; ok {
		return cloneOrder(o)
	}
	return nil
}

func (m *memOrders) Upsert(ctx context.Context, order *models.PaymentOrder) (*models.PaymentOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, ok := m.orders[order.MerchantOrderID]; ok {
		if !existing.Status.IsSettled() {
			existing.AmountCents = order.AmountCents
			existing.Currency = order.Currency
		}
		existing.UpdatedAt = now
		return cloneOrder(existing), nil
	}

	stored := cloneOrder(order)
	stored.ID = uuid.New()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.orders[order.MerchantOrderID] = stored
	return cloneOrder(stored), nil
}

func (m *memOrders) GetByMerchantOrderID(ctx context.Context, merchantOrderID string) (*models.PaymentOrder, error) {
	return m.get(merchantOrderID), nil
}

func (m *memOrders) GetByGatewayOrderID(ctx context.Context, gatewayOrderID int64) (*models.PaymentOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.GatewayOrderID != nil && *o.GatewayOrderID == gatewayOrderID {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (m *memOrders) SetGatewayOrderID(ctx context.Context, merchantOrderID string, gatewayOrderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[merchantOrderID]
	if !ok || o.IsBound() {
		return false, nil
	}
	o.GatewayOrderID = &gatewayOrderID
	if o.Status == models.OrderStatusCreated {
		o.Status = models.OrderStatusAwaitingPayment
	}
	return true, nil
}

func (m *memOrders) SetPaymentKey(ctx context.Context, merchantOrderID, key string, integrationID int, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[merchantOrderID]; ok {
		o.LastPaymentKey = &key
		o.PaymentKeyIntegrationID = &integrationID
		o.PaymentKeyExpiresAt = &expiresAt
	}
	return nil
}

func (m *memOrders) UpdateStatus(ctx context.Context, merchantOrderID string, status models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[merchantOrderID]; ok {
		o.Status = status
		o.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memOrders) ListStale(ctx context.Context, statuses []models.OrderStatus, updatedBefore, createdAfter time.Time, limit int) ([]*models.PaymentOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.PaymentOrder
	for _, o := range m.orders {
		if !o.IsBound() {
			continue
		}
		for _, s := range statuses {
			if o.Status == s {
				out = append(out, cloneOrder(o))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MerchantOrderID < out[j].MerchantOrderID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

type memTransactions struct {
	mu   sync.Mutex
	rows []*models.PaymentTransaction
}

func cloneTxn(t *models.PaymentTransaction) *models.PaymentTransaction {
	c := *t
	return &c
}

func (m *memTransactions) all() []*models.PaymentTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.PaymentTransaction, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, cloneTxn(r))
	}
	return out
}

func (m *memTransactions) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if txn.GatewayTransactionID != nil {
		for _, r := range m.rows {
			if r.GatewayTransactionID != nil && *r.GatewayTransactionID == *txn.GatewayTransactionID {
				return database.ErrUniqueViolation
			}
		}
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	m.rows = append(m.rows, cloneTxn(txn))
	return nil
}

func (m *memTransactions) Update(ctx context.Context, txn *models.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rows {
		if r.ID == txn.ID {
			m.rows[i] = cloneTxn(txn)
			return nil
		}
	}
	return nil
}

func (m *memTransactions) GetByGatewayTransactionID(ctx context.Context, gatewayTransactionID int64) (*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.GatewayTransactionID != nil && *r.GatewayTransactionID == gatewayTransactionID {
			return cloneTxn(r), nil
		}
	}
	return nil, nil
}

func (m *memTransactions) GetLatestUnmatched(ctx context.Context, merchantOrderID string) (*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		r := m.rows[i]
		if r.MerchantOrderID == merchantOrderID && r.GatewayTransactionID == nil {
			return cloneTxn(r), nil
		}
	}
	return nil, nil
}

func (m *memTransactions) CountByMerchantOrderID(ctx context.Context, merchantOrderID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if r.MerchantOrderID == merchantOrderID {
			n++
		}
	}
	return n, nil
}

// ============================================================================
// WEBHOOK AUDITS, CARD TOKENS, INSTRUMENTS, USERS
// ============================================================================

type memAudits struct {
	mu      sync.Mutex
	entries []*models.WebhookAuditLog
}

func (m *memAudits) Log(ctx context.Context, audit *models.WebhookAuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, audit)
	return nil
}

func (m *memAudits) last() *models.WebhookAuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[len(m.entries)-1]
}

type memCardTokens struct {
	mu      sync.Mutex
	records map[string]*models.CardTokenWebhookRecord
}

func newMemCardTokens() *memCardTokens {
	return &memCardTokens{records: make(map[string]*models.CardTokenWebhookRecord)}
}

func (m *memCardTokens) CreatePending(ctx context.Context, record *models.CardTokenWebhookRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.WebhookID]; ok {
		return false, nil
	}
	c := *record
	m.records[record.WebhookID] = &c
	return true, nil
}

func (m *memCardTokens) GetByWebhookID(ctx context.Context, webhookID string) (*models.CardTokenWebhookRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[webhookID]; ok {
		c := *r
		return &c, nil
	}
	return nil, nil
}

func (m *memCardTokens) Finish(ctx context.Context, record *models.CardTokenWebhookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *record
	m.records[record.WebhookID] = &c
	return nil
}

type memInstruments struct {
	mu    sync.Mutex
	items []*models.SavedPaymentInstrument
}

func (m *memInstruments) Create(ctx context.Context, inst *models.SavedPaymentInstrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hasDefault := false
	for _, it := range m.items {
		if it.UserID == inst.UserID && it.Token == inst.Token {
			return database.ErrUniqueViolation
		}
		if it.UserID == inst.UserID && it.IsDefault {
			hasDefault = true
		}
	}
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	inst.IsDefault = !hasDefault
	inst.CreatedAt = time.Now()
	c := *inst
	m.items = append(m.items, &c)
	return nil
}

func (m *memInstruments) GetByUserAndToken(ctx context.Context, userID, token string) (*models.SavedPaymentInstrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.UserID == userID && it.Token == token {
			c := *it
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memInstruments) GetByIDForUser(ctx context.Context, id uuid.UUID, userID string) (*models.SavedPaymentInstrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID == id && it.UserID == userID {
			c := *it
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memInstruments) ListByUser(ctx context.Context, userID string) ([]*models.SavedPaymentInstrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SavedPaymentInstrument
	for _, it := range m.items {
		if it.UserID == userID {
			c := *it
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memInstruments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type memUsers map[string]string

func (m memUsers) FindIDByEmail(ctx context.Context, email string) (string, error) {
	return m[email], nil
}

// ============================================================================
// CACHE
// ============================================================================

type memCacheEntry struct {
	value     string
	expiresAt time.Time
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]memCacheEntry
	gets    int
	expires []time.Duration
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]memCacheEntry)}
}

func (m *memCache) live(key string) (memCacheEntry, bool) {
	e, ok := m.entries[key]
	if !ok || !time.Now().Before(e.expiresAt) {
		return memCacheEntry{}, false
	}
	return e, true
}

func (m *memCache) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	e, ok := m.live(key)
	return e.value, ok, nil
}

func (m *memCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memCacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *memCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if e, ok := m.live(key); ok {
		for _, c := range e.value {
			n = n*10 + int64(c-'0')
		}
	}
	n++
	expiresAt := time.Now().Add(ttl)
	if e, ok := m.live(key); ok {
		expiresAt = e.expiresAt
	}
	m.entries[key] = memCacheEntry{value: itoa(n), expiresAt: expiresAt}
	return n, nil
}

func (m *memCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires = append(m.expires, ttl)
	if e, ok := m.entries[key]; ok {
		e.expiresAt = time.Now().Add(ttl)
		m.entries[key] = e
	}
	return nil
}

func (m *memCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

// ============================================================================
// GATEWAY
// ============================================================================

type fakeGateway struct {
	mu sync.Mutex

	nextOrderID    int64
	createOrderErr error
	keyErr         error
	payResult      *paymob.PayResult
	payErr         error
	orderResource  *paymob.OrderResource
	intention      *paymob.IntentionResponse
	createDelay    time.Duration

	createOrderCalls int
	keyCalls         int
	payCalls         int
	getOrderCalls    int
	lastPaySource    paymob.PaySource
	lastIntention    paymob.IntentionRequest
	lastKeyRequest   paymob.PaymentKeyRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{nextOrderID: 9000}
}

func (g *fakeGateway) calls() (createOrder, key, pay int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createOrderCalls, g.keyCalls, g.payCalls
}

func (g *fakeGateway) Authenticate(ctx context.Context) (string, error) {
	return "auth-token", nil
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req paymob.CreateOrderRequest) (int64, error) {
	if g.createDelay > 0 {
		time.Sleep(g.createDelay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createOrderCalls++
	if g.createOrderErr != nil {
		return 0, g.createOrderErr
	}
	g.nextOrderID++
	return g.nextOrderID, nil
}

func (g *fakeGateway) CreatePaymentKey(ctx context.Context, req paymob.PaymentKeyRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keyCalls++
	g.lastKeyRequest = req
	if g.keyErr != nil {
		return "", g.keyErr
	}
	return "pk-" + itoa(req.OrderID) + "-" + itoa(int64(g.keyCalls)), nil
}

func (g *fakeGateway) Pay(ctx context.Context, paymentKey string, source paymob.PaySource) (*paymob.PayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payCalls++
	g.lastPaySource = source
	if g.payErr != nil {
		return nil, g.payErr
	}
	if g.payResult == nil {
		return &paymob.PayResult{Kind: paymob.PayKindOpaque}, nil
	}
	r := *g.payResult
	return &r, nil
}

func (g *fakeGateway) CreateIntention(ctx context.Context, req paymob.IntentionRequest) (*paymob.IntentionResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastIntention = req
	return g.intention, nil
}

func (g *fakeGateway) GetOrder(ctx context.Context, authToken string, gatewayOrderID int64) (*paymob.OrderResource, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getOrderCalls++
	if g.orderResource == nil {
		return &paymob.OrderResource{ID: paymob.Int64(gatewayOrderID)}, nil
	}
	r := *g.orderResource
	return &r, nil
}

func (g *fakeGateway) LatestTransaction(ctx context.Context, authToken string, gatewayOrderID int64) (paymob.TransactionResource, bool, error) {
	return paymob.TransactionResource{}, false, nil
}

func (g *fakeGateway) IframeURL(iframeID int, paymentKey string) string {
	return "https://gateway.test/iframes/" + itoa(int64(iframeID)) + "?payment_token=" + paymentKey
}

// fakeTokens hands out a token that changes on every invalidation
type fakeTokens struct {
	mu            sync.Mutex
	invalidations int
}

func (f *fakeTokens) Get(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "token-" + itoa(int64(f.invalidations)), nil
}

func (f *fakeTokens) Invalidate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidations++
	return nil
}
