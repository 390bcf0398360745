package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mf-loan-eligibility/internal/common/errors"
	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/eligibility/flow"
	"mf-loan-eligibility/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mocks
// ==========================

type MockCollaborators struct {
	mock.Mock
}

func (m *MockCollaborators) CheckMobileExists(ctx context.Context, mobile string) (flow.MobileCheck, error) {
	args := m.Called(ctx, mobile)
	return args.Get(0).(flow.MobileCheck), args.Error(1)
}

func (m *MockCollaborators) SendOTP(ctx context.Context, mobile string) error {
	return m.Called(ctx, mobile).Error(0)
}

func (m *MockCollaborators) VerifyOTP(ctx context.Context, mobile, code string) (flow.OTPVerdict, error) {
	args := m.Called(ctx, mobile, code)
	return args.Get(0).(flow.OTPVerdict), args.Error(1)
}

func (m *MockCollaborators) VerifyPAN(ctx context.Context, pan, mobile string) (flow.PANVerdict, error) {
	args := m.Called(ctx, pan, mobile)
	return args.Get(0).(flow.PANVerdict), args.Error(1)
}

func (m *MockCollaborators) LookupHoldings(ctx context.Context, pan string) (flow.HoldingsVerdict, error) {
	args := m.Called(ctx, pan)
	return args.Get(0).(flow.HoldingsVerdict), args.Error(1)
}

func (m *MockCollaborators) SourceOffers(ctx context.Context, profile models.ApplicantProfile) ([]models.OfferQuote, error) {
	args := m.Called(ctx, profile)
	quotes, _ := args.Get(0).([]models.OfferQuote)
	return quotes, args.Error(1)
}

func (m *MockCollaborators) RequestSanction(ctx context.Context, req models.SanctionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// ==========================
// Test Helper Functions
// ==========================

type testEnv struct {
	router *gin.Engine
	store  *SessionStore
	collab *MockCollaborators
}

func newTestEnv(t *testing.T, checks ...ReadinessCheck) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := new(MockCollaborators)
	log := logger.NewTestLogger(t)
	store := NewSessionStore(func(id string) *flow.Controller {
		return flow.NewController(flow.Collaborators{
			Mobile: m, OTP: m, PAN: m, Holdings: m, Offers: m, Sanction: m,
		}, flow.Options{SessionID: id, CollaboratorTimeout: time.Second, Logger: log})
	}, time.Minute, log)

	return &testEnv{
		router: NewServer(store, log, checks...).Router(),
		store:  store,
		collab: m,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, sessionResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp sessionResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	w, resp := e.do(t, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotEmpty(t, resp.SessionID)
	assert.Equal(t, flow.StepMobile, resp.Session.Step)
	return resp.SessionID
}

// ==========================
// Journey Tests
// ==========================

func TestServer_FullJourneyToOffers(t *testing.T) {
	env := newTestEnv(t)
	m := env.collab
	m.On("CheckMobileExists", mock.Anything, "9876543210").Return(flow.MobileCheck{}, nil)
	m.On("SendOTP", mock.Anything, "9876543210").Return(nil)
	m.On("VerifyOTP", mock.Anything, "9876543210", "123456").Return(flow.OTPVerdict{Verified: true}, nil)
	m.On("VerifyPAN", mock.Anything, "ABCDE1234F", "9876543210").Return(flow.PANVerdict{}, nil)
	m.On("LookupHoldings", mock.Anything, "ABCDE1234F").Return(flow.HoldingsVerdict{HasHoldings: true}, nil)
	m.On("SourceOffers", mock.Anything, mock.Anything).Return([]models.OfferQuote{
		{LenderName: "ABC Bank", LoanAmount: 500000, AnnualRate: 10.5, TenureMonths: 36},
		{LenderName: "XYZ Finance", LoanAmount: 450000, AnnualRate: 11.2, TenureMonths: 24},
	}, nil)
	m.On("RequestSanction", mock.Anything, mock.Anything).Return("4242", nil)

	id := env.createSession(t)
	base := "/v1/sessions/" + id

	w, resp := env.do(t, http.MethodPost, base+"/mobile", mobileRequest{MobileNumber: "9876543210"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, flow.StepOTP, resp.Session.Step)
	assert.Equal(t, "******3210", resp.Session.MaskedMobile)

	w, resp = env.do(t, http.MethodPost, base+"/otp", otpRequest{Code: "123456"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, flow.StepIntent, resp.Session.Step)
	assert.NotContains(t, w.Body.String(), "123456")

	w, resp = env.do(t, http.MethodPost, base+"/intent", intentRequest{Intent: "now"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, flow.StepPAN, resp.Session.Step)

	w, resp = env.do(t, http.MethodPost, base+"/pan", panRequest{PAN: "ABCDE1234F"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, flow.StepOffers, resp.Session.Step)
	require.NotNil(t, resp.Session.BestOffer)
	assert.Equal(t, "ABC Bank", resp.Session.BestOffer.LenderName)

	w, resp = env.do(t, http.MethodPost, base+"/offer-details/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Session.OfferDetailsExpanded)

	w, resp = env.do(t, http.MethodPost, base+"/sanction", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "4242", resp.Session.SanctionReference)

	w, resp = env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, flow.StepOffers, resp.Session.Step)
}

func TestServer_PANMismatchIsReprompt(t *testing.T) {
	env := newTestEnv(t)
	m := env.collab
	m.On("CheckMobileExists", mock.Anything, mock.Anything).Return(flow.MobileCheck{}, nil)
	m.On("SendOTP", mock.Anything, mock.Anything).Return(nil)
	m.On("VerifyOTP", mock.Anything, mock.Anything, mock.Anything).Return(flow.OTPVerdict{Verified: true}, nil)
	m.On("VerifyPAN", mock.Anything, mock.Anything, mock.Anything).Return(flow.PANVerdict{Mismatch: true}, nil)

	id := env.createSession(t)
	base := "/v1/sessions/" + id
	env.do(t, http.MethodPost, base+"/mobile", mobileRequest{MobileNumber: "9876543210"})
	env.do(t, http.MethodPost, base+"/otp", otpRequest{Code: "123456"})
	env.do(t, http.MethodPost, base+"/intent", intentRequest{Intent: "exploring"})

	w, resp := env.do(t, http.MethodPost, base+"/pan", panRequest{PAN: "ABCDE1234F"})

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.ErrCodePANPhoneMismatch, resp.Error.Code)
	assert.Equal(t, "Your phone number ******3210 is not associated with your PAN", resp.Error.Message)
	assert.Equal(t, flow.StepPAN, resp.Session.Step)
	assert.True(t, resp.Session.PANPhoneMismatch)
}

func TestServer_OfferSourcingFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	m := env.collab
	m.On("CheckMobileExists", mock.Anything, mock.Anything).Return(flow.MobileCheck{}, nil)
	m.On("SendOTP", mock.Anything, mock.Anything).Return(nil)
	m.On("VerifyOTP", mock.Anything, mock.Anything, mock.Anything).Return(flow.OTPVerdict{Verified: true}, nil)
	m.On("VerifyPAN", mock.Anything, mock.Anything, mock.Anything).Return(flow.PANVerdict{}, nil)
	m.On("LookupHoldings", mock.Anything, mock.Anything).Return(flow.HoldingsVerdict{HasHoldings: true}, nil)
	m.On("SourceOffers", mock.Anything, mock.Anything).Return(nil, stderrors.New("lender db down")).Once()
	m.On("SourceOffers", mock.Anything, mock.Anything).Return([]models.OfferQuote{
		{LenderName: "ABC Bank", AnnualRate: 10.5},
	}, nil).Once()

	id := env.createSession(t)
	base := "/v1/sessions/" + id
	env.do(t, http.MethodPost, base+"/mobile", mobileRequest{MobileNumber: "9876543210"})
	env.do(t, http.MethodPost, base+"/otp", otpRequest{Code: "123456"})
	env.do(t, http.MethodPost, base+"/intent", intentRequest{Intent: "now"})

	w, resp := env.do(t, http.MethodPost, base+"/pan", panRequest{PAN: "ABCDE1234F"})

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.ErrCodeCollaboratorUnavailable, resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, flow.StepHoldings, resp.Session.Step)
	assert.Equal(t, flow.OffersFailed, resp.Session.OffersStatus)

	w, resp = env.do(t, http.MethodPost, base+"/offers/request", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, resp.Error)
	assert.Equal(t, flow.StepOffers, resp.Session.Step)
}

func TestServer_NoInvestmentsGoBack(t *testing.T) {
	env := newTestEnv(t)
	m := env.collab
	m.On("CheckMobileExists", mock.Anything, mock.Anything).Return(flow.MobileCheck{}, nil)
	m.On("SendOTP", mock.Anything, mock.Anything).Return(nil)
	m.On("VerifyOTP", mock.Anything, mock.Anything, mock.Anything).Return(flow.OTPVerdict{Verified: true}, nil)
	m.On("VerifyPAN", mock.Anything, mock.Anything, mock.Anything).Return(flow.PANVerdict{}, nil)
	m.On("LookupHoldings", mock.Anything, mock.Anything).Return(flow.HoldingsVerdict{}, nil)

	id := env.createSession(t)
	base := "/v1/sessions/" + id
	env.do(t, http.MethodPost, base+"/mobile", mobileRequest{MobileNumber: "9876543210"})
	env.do(t, http.MethodPost, base+"/otp", otpRequest{Code: "123456"})
	env.do(t, http.MethodPost, base+"/intent", intentRequest{Intent: "future"})
	_, resp := env.do(t, http.MethodPost, base+"/pan", panRequest{PAN: "ABCDE1234F"})
	require.Equal(t, flow.StepHoldings, resp.Session.Step)
	assert.False(t, resp.Session.HasInvestments)

	w, resp := env.do(t, http.MethodPost, base+"/investments/go-back", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, flow.StepMobile, resp.Session.Step)
	assert.Empty(t, resp.Session.MobileNumber)
	assert.Empty(t, resp.Session.PANNumber)
}

// ==========================
// Status Mapping Tests
// ==========================

func TestServer_ErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	env.collab.On("CheckMobileExists", mock.Anything, "1111111111").
		Return(flow.MobileCheck{}, stderrors.New("db down"))

	id := env.createSession(t)
	base := "/v1/sessions/" + id

	w, resp := env.do(t, http.MethodPost, base+"/mobile", mobileRequest{MobileNumber: "12345"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.ErrCodeInvalidInput, resp.Error.Code)

	w, resp = env.do(t, http.MethodPost, base+"/pan", panRequest{PAN: "ABCDE1234F"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, errors.ErrCodeStepNotApplicable, resp.Error.Code)

	w, resp = env.do(t, http.MethodPost, base+"/mobile", mobileRequest{MobileNumber: "1111111111"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, errors.ErrCodeCollaboratorUnavailable, resp.Error.Code)
	assert.True(t, resp.Error.Retryable)

	w, _ = env.do(t, http.MethodGet, "/v1/sessions/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_MalformedBody(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/mobile", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestServer_BodyValidation(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		body  interface{}
		field string
	}{
		{"missing mobile", "/mobile", map[string]string{}, "mobileNumber"},
		{"missing otp", "/otp", map[string]string{"other": "x"}, "code"},
		{"unknown intent", "/intent", intentRequest{Intent: "someday"}, "intent"},
		{"missing pan", "/pan", panRequest{}, "pan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			id := env.createSession(t)

			w, resp := env.do(t, http.MethodPost, "/v1/sessions/"+id+tt.path, tt.body)

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, errors.ErrCodeInvalidInput, resp.Error.Code)
			assert.Equal(t, tt.field, resp.Error.Metadata["field"])
			assert.Equal(t, flow.StepMobile, resp.Session.Step)
			env.collab.AssertNotCalled(t, "CheckMobileExists", mock.Anything, mock.Anything)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  *errors.StandardError
		want int
	}{
		{nil, http.StatusOK},
		{errors.NewInvalidInputError("pan", "bad"), http.StatusUnprocessableEntity},
		{errors.NewOTPRejectedError("mismatch"), http.StatusOK},
		{errors.NewPANPhoneMismatchError("******3210"), http.StatusOK},
		{errors.NewStepNotApplicableError("submitPan", 1), http.StatusConflict},
		{errors.NewOperationInFlightError("submitPan"), http.StatusConflict},
		{errors.NewStaleResultError("submitPan"), http.StatusGone},
		{errors.NewCollaboratorUnavailableError("verifyPan", nil), http.StatusServiceUnavailable},
		{errors.NewSessionNotFoundError("x"), http.StatusNotFound},
		{errors.NewInternalError("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err))
	}
}

// ==========================
// Health Tests
// ==========================

func TestServer_HealthAndReady(t *testing.T) {
	healthy := ReadinessCheck{Name: "redis", Check: func(context.Context) error { return nil }}
	env := newTestEnv(t, healthy)

	w, _ := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"ok"`)

	failing := ReadinessCheck{Name: "postgres", Check: func(context.Context) error { return stderrors.New("refused") }}
	env = newTestEnv(t, healthy, failing)
	w, _ = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"refused"`)
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t)
	env.createSession(t)

	w, _ := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "eligibility_active_sessions")
}

// ==========================
// Session Store Tests
// ==========================

func TestSessionStore_EvictIdle(t *testing.T) {
	log := logger.NewTestLogger(t)
	store := NewSessionStore(func(id string) *flow.Controller {
		return flow.NewController(flow.Collaborators{}, flow.Options{SessionID: id, Logger: log})
	}, 10*time.Minute, log)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	stale, _ := store.Create()
	now = now.Add(8 * time.Minute)
	fresh, _ := store.Create()
	now = now.Add(4 * time.Minute)

	assert.Equal(t, 1, store.EvictIdle())
	_, ok := store.Get(stale)
	assert.False(t, ok)
	_, ok = store.Get(fresh)
	assert.True(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestSessionStore_GetRefreshesIdleClock(t *testing.T) {
	log := logger.NewTestLogger(t)
	store := NewSessionStore(func(id string) *flow.Controller {
		return flow.NewController(flow.Collaborators{}, flow.Options{Logger: log})
	}, 10*time.Minute, log)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	id, _ := store.Create()
	now = now.Add(9 * time.Minute)
	_, ok := store.Get(id)
	require.True(t, ok)
	now = now.Add(9 * time.Minute)

	assert.Equal(t, 0, store.EvictIdle())
}

func TestSessionStore_RunStopsOnCancel(t *testing.T) {
	log := logger.NewTestLogger(t)
	store := NewSessionStore(func(id string) *flow.Controller {
		return flow.NewController(flow.Collaborators{}, flow.Options{Logger: log})
	}, time.Nanosecond, log)
	store.Create()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
