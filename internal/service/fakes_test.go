package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/payment"
	"flash-sale-reservation-service/internal/repository"
)

// In-memory repositories guarded by a mutex so concurrency behavior can be
// exercised without a database that serializes writers.

type fakeSaleRepo struct {
	mu     sync.Mutex
	nextID uint

	windows map[uint]*domain.SaleWindow
	items   map[uint]*domain.LineItem

	incrementBroken bool
}

func newFakeSaleRepo() *fakeSaleRepo {
	return &fakeSaleRepo{
		windows: make(map[uint]*domain.SaleWindow),
		items:   make(map[uint]*domain.LineItem),
	}
}

func (f *fakeSaleRepo) addWindow(w domain.SaleWindow, items ...domain.LineItem) (uint, []uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	w.ID = f.nextID
	f.windows[w.ID] = &w

	itemIDs := make([]uint, 0, len(items))
	for i := range items {
		f.nextID++
		items[i].ID = f.nextID
		items[i].SaleWindowID = w.ID
		f.items[items[i].ID] = &items[i]
		itemIDs = append(itemIDs, items[i].ID)
	}
	return w.ID, itemIDs
}

func (f *fakeSaleRepo) stockOf(lineItemID uint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[lineItemID].StockRemaining
}

func (f *fakeSaleRepo) Create(w *domain.SaleWindow) error {
	items := w.LineItems
	w.LineItems = nil
	id, _ := f.addWindow(*w, items...)
	w.ID = id
	w.LineItems = items
	return nil
}

func (f *fakeSaleRepo) FindByID(id uint) (*domain.SaleWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[id]
	if !ok {
		return nil, repository.ErrSaleWindowNotFound
	}
	out := *w
	out.LineItems = nil
	for _, li := range f.items {
		if li.SaleWindowID == id {
			out.LineItems = append(out.LineItems, *li)
		}
	}
	sort.Slice(out.LineItems, func(i, j int) bool { return out.LineItems[i].ID < out.LineItems[j].ID })
	return &out, nil
}

func (f *fakeSaleRepo) FindLineItem(id uint) (*domain.LineItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	li, ok := f.items[id]
	if !ok {
		return nil, repository.ErrLineItemNotFound
	}
	out := *li
	return &out, nil
}

func (f *fakeSaleRepo) DecrementStock(_ context.Context, lineItemID uint, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	li, ok := f.items[lineItemID]
	if !ok || li.StockRemaining <= 0 {
		return false, nil
	}
	w, ok := f.windows[li.SaleWindowID]
	if !ok || !w.Open(now) {
		return false, nil
	}
	li.StockRemaining--
	return true, nil
}

func (f *fakeSaleRepo) IncrementStock(_ context.Context, lineItemID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrementBroken {
		return false, nil
	}
	li, ok := f.items[lineItemID]
	if !ok || li.StockRemaining >= li.StockLimit {
		return false, nil
	}
	li.StockRemaining++
	return true, nil
}

func (f *fakeSaleRepo) SetStatus(id uint, from, to domain.SaleStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[id]
	if !ok {
		return repository.ErrSaleWindowNotFound
	}
	if w.Status != from {
		return repository.ErrInvalidTransition
	}
	w.Status = to
	return nil
}

func (f *fakeSaleRepo) SweepEndedWindows(now time.Time) ([]domain.SaleWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var closed []domain.SaleWindow
	for _, w := range f.windows {
		if w.Status.Terminal() || w.EndTime.After(now) {
			continue
		}
		w.Status = domain.SaleStatusEnded
		closed = append(closed, *w)
	}
	return closed, nil
}

type fakeReservationRepo struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*domain.Reservation
}

func newFakeReservationRepo() *fakeReservationRepo {
	return &fakeReservationRepo{byID: make(map[uint]*domain.Reservation)}
}

func (f *fakeReservationRepo) add(res domain.Reservation) uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	res.ID = f.nextID
	f.byID[res.ID] = &res
	return res.ID
}

func (f *fakeReservationRepo) statusOf(id uint) domain.ReservationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id].Status
}

func (f *fakeReservationRepo) Create(_ context.Context, res *domain.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.UserID == res.UserID && existing.SaleWindowID == res.SaleWindowID {
			return repository.ErrDuplicateReservation
		}
		if existing.PaymentReference == res.PaymentReference {
			return repository.ErrDuplicateReservation
		}
	}
	f.nextID++
	res.ID = f.nextID
	stored := *res
	f.byID[res.ID] = &stored
	return nil
}

func (f *fakeReservationRepo) FindByPaymentReference(reference string) (*domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, res := range f.byID {
		if res.PaymentReference == reference {
			out := *res
			return &out, nil
		}
	}
	return nil, repository.ErrReservationNotFound
}

func (f *fakeReservationRepo) FindByUserAndSale(userID, saleWindowID uint) (*domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, res := range f.byID {
		if res.UserID == userID && res.SaleWindowID == saleWindowID {
			out := *res
			return &out, nil
		}
	}
	return nil, repository.ErrReservationNotFound
}

func (f *fakeReservationRepo) MarkCompleted(_ context.Context, reference string, purchasedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, res := range f.byID {
		if res.PaymentReference == reference {
			if res.Status != domain.ReservationStatusPending {
				return false, nil
			}
			res.Status = domain.ReservationStatusCompleted
			at := purchasedAt
			res.PurchasedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeReservationRepo) MarkFailed(_ context.Context, reference string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, res := range f.byID {
		if res.PaymentReference == reference {
			if res.Status != domain.ReservationStatusPending {
				return false, nil
			}
			res.Status = domain.ReservationStatusFailed
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeReservationRepo) MarkExpired(_ context.Context, id uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.byID[id]
	if !ok || res.Status != domain.ReservationStatusPending {
		return false, nil
	}
	res.Status = domain.ReservationStatusExpired
	return true, nil
}

func (f *fakeReservationRepo) ListExpiredPending(now time.Time, limit int) ([]domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Reservation
	for _, res := range f.byID {
		if res.Status == domain.ReservationStatusPending && res.ExpiresAt.Before(now) {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeReservationRepo) ListBySalePaged(saleWindowID uint, query repository.ReservationListQuery) (repository.PageResult[domain.Reservation], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []domain.Reservation
	for _, res := range f.byID {
		if res.SaleWindowID != saleWindowID {
			continue
		}
		if query.Status != "" && res.Status != query.Status {
			continue
		}
		all = append(all, *res)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return repository.PageResult[domain.Reservation]{
		Items:    all,
		Total:    int64(len(all)),
		Page:     1,
		PageSize: len(all),
	}, nil
}

func (f *fakeReservationRepo) DeleteByID(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: make(map[uint]*domain.User)}
}

func (f *fakeUserRepo) FindByID(id uint) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (f *fakeUserRepo) FindByEmail(email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeUserRepo) Create(user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	user.ID = f.nextID
	stored := *user
	f.byID[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) BumpTokenVersion(_ context.Context, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[userID]; ok {
		u.TokenVersion++
	}
	return nil
}

func (f *fakeUserRepo) setSuspended(userID uint, suspended bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[userID].Suspended = suspended
}

type fakeGateway struct {
	mu           sync.Mutex
	initErr      error
	initCalls    int
	verifyStatus string
}

func (f *fakeGateway) Initialize(_ context.Context, req payment.InitializeRequest) (*payment.InitializeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &payment.InitializeResponse{
		AuthorizationURL: "https://checkout.example/" + req.Reference,
		AccessCode:       "code-" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (f *fakeGateway) Verify(_ context.Context, reference string) (*payment.VerifyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &payment.VerifyResponse{Reference: reference, Status: f.verifyStatus}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	stock    []StockUpdate
	payments []PaymentResult
}

func (f *fakeNotifier) PublishStockUpdate(_ context.Context, update StockUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stock = append(f.stock, update)
}

func (f *fakeNotifier) PublishPaymentResult(_ context.Context, _ uint, result PaymentResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments = append(f.payments, result)
}

func (f *fakeNotifier) paymentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payments)
}
