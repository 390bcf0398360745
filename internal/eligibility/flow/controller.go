// Package flow drives one applicant through the six-step loan eligibility
// wizard: mobile number, OTP, intent, PAN, holdings check and offers.
//
// A Controller owns exactly one Session. Every mutating operation is
// single-flight, runs its collaborator calls under a bounded timeout without
// holding the session lock, and commits only when every call succeeded.
// Calls are tagged with the session generation; GoBackToStart and Restart
// bump it, so results that arrive for an abandoned journey are dropped.
package flow

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"mf-loan-eligibility/internal/common/errors"
	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/common/metrics"
	"mf-loan-eligibility/internal/common/observability"
	"mf-loan-eligibility/internal/common/validation"
	"mf-loan-eligibility/internal/eligibility/offers"
	"mf-loan-eligibility/internal/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	mobileTag = "len=10,number"
	otpTag    = "len=6,number"
	panTag    = "len=10,alphanum"

	DefaultCollaboratorTimeout = 10 * time.Second
)

// Options configures a Controller. Zero values select defaults.
type Options struct {
	SessionID           string
	CollaboratorTimeout time.Duration
	Logger              logger.Logger
	Observability       *observability.Observability
	Now                 func() time.Time
}

// Controller is the state machine for one applicant journey.
type Controller struct {
	mu              sync.Mutex
	session         Session
	inFlight        string
	cancel          context.CancelFunc
	offersRequested bool

	collab  Collaborators
	timeout time.Duration
	log     logger.Logger
	obs     *observability.Observability
	now     func() time.Time
}

// call is one in-flight mutating operation bound to a session generation.
type call struct {
	ctx        context.Context
	cancel     context.CancelFunc
	op         string
	generation uint64
}

func NewController(collab Collaborators, opts Options) *Controller {
	if opts.CollaboratorTimeout <= 0 {
		opts.CollaboratorTimeout = DefaultCollaboratorTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	if opts.Observability == nil {
		opts.Observability = observability.Noop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log := opts.Logger.Named("flow")
	if opts.SessionID != "" {
		log = log.With(map[string]interface{}{"sessionId": opts.SessionID})
	}

	return &Controller{
		session: newSession(0),
		collab:  collab,
		timeout: opts.CollaboratorTimeout,
		log:     log,
		obs:     opts.Observability,
		now:     opts.Now,
	}
}

// Snapshot returns the presentation view of the session.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return buildView(c.session.clone(), c.inFlight != "")
}

// Session returns a deep copy of the raw session state.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// Step returns the current step.
func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Step
}

// ==========================
// Operations
// ==========================

// SubmitMobileNumber checks whether the number already has an account and,
// for a new applicant, issues an OTP. Advances 1 -> 2.
func (c *Controller) SubmitMobileNumber(ctx context.Context, digits string) (Step, error) {
	const op = "submitMobileNumber"

	c.mu.Lock()
	if c.session.Step != StepMobile {
		return c.rejectLocked(op, errors.NewStepNotApplicableError(op, int(c.session.Step)))
	}
	if res := validation.Var("mobileNumber", digits, mobileTag); !res.Valid {
		return c.rejectLocked(op, errors.NewInvalidInputError("mobileNumber", res.Summary()))
	}
	cl, err := c.beginLocked(ctx, op)
	if err != nil {
		return c.rejectLocked(op, err)
	}
	c.mu.Unlock()

	check, err := invoke(c, cl, "checkMobileExists", func(ctx context.Context) (MobileCheck, error) {
		return c.collab.Mobile.CheckMobileExists(ctx, digits)
	})
	if err == nil && !check.Exists {
		_, err = invoke(c, cl, "sendOtp", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.collab.OTP.SendOTP(ctx, digits)
		})
	}

	c.mu.Lock()
	if err := c.finishLocked(cl, err); err != nil {
		return c.rejectLocked(op, err)
	}
	c.session.MobileNumber = digits
	c.session.AccountExists = check.Exists
	c.session.OTPSent = !check.Exists
	c.advanceLocked(StepOTP)
	if check.Exists {
		c.obs.RecordJourney(ctx, "existing_account")
	}
	return c.unlockWithStep()
}

// ResendOTP issues a fresh OTP to the submitted mobile number.
func (c *Controller) ResendOTP(ctx context.Context) (Step, error) {
	const op = "resendOtp"

	c.mu.Lock()
	if c.session.Step != StepOTP || c.session.AccountExists {
		return c.rejectLocked(op, errors.NewStepNotApplicableError(op, int(c.session.Step)))
	}
	mobile := c.session.MobileNumber
	cl, err := c.beginLocked(ctx, op)
	if err != nil {
		return c.rejectLocked(op, err)
	}
	c.mu.Unlock()

	_, err = invoke(c, cl, "sendOtp", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.collab.OTP.SendOTP(ctx, mobile)
	})

	c.mu.Lock()
	if err := c.finishLocked(cl, err); err != nil {
		return c.rejectLocked(op, err)
	}
	c.session.OTPSent = true
	c.session.OTPCode = ""
	return c.unlockWithStep()
}

// SubmitOTP forwards a six digit code for verification. Advances 2 -> 3 only
// for a new applicant whose code the gateway accepts.
func (c *Controller) SubmitOTP(ctx context.Context, code string) (Step, error) {
	const op = "submitOtp"

	c.mu.Lock()
	if c.session.Step != StepOTP || c.session.AccountExists {
		return c.rejectLocked(op, errors.NewStepNotApplicableError(op, int(c.session.Step)))
	}
	if res := validation.Var("otpCode", code, otpTag); !res.Valid {
		return c.rejectLocked(op, errors.NewInvalidInputError("otpCode", res.Summary()))
	}
	mobile := c.session.MobileNumber
	cl, err := c.beginLocked(ctx, op)
	if err != nil {
		return c.rejectLocked(op, err)
	}
	c.mu.Unlock()

	verdict, err := invoke(c, cl, "verifyOtp", func(ctx context.Context) (OTPVerdict, error) {
		return c.collab.OTP.VerifyOTP(ctx, mobile, code)
	})

	c.mu.Lock()
	if err := c.finishLocked(cl, err); err != nil {
		return c.rejectLocked(op, err)
	}
	if !verdict.Verified {
		return c.rejectLocked(op, errors.NewOTPRejectedError(verdict.Reason))
	}
	c.session.OTPCode = code
	c.session.OTPVerified = true
	c.advanceLocked(StepIntent)
	return c.unlockWithStep()
}

// SelectIntent records the borrowing intent. Advances 3 -> 4 for every
// accepted value.
func (c *Controller) SelectIntent(ctx context.Context, intent models.Intent) (Step, error) {
	const op = "selectIntent"

	c.mu.Lock()
	if c.session.Step != StepIntent {
		return c.rejectLocked(op, errors.NewStepNotApplicableError(op, int(c.session.Step)))
	}
	if c.inFlight != "" {
		return c.rejectLocked(op, errors.NewOperationInFlightError(op))
	}
	if !intent.Valid() {
		return c.rejectLocked(op, errors.NewInvalidInputError("intent", "must be one of exploring, future, now"))
	}
	c.session.UserIntent = intent
	c.advanceLocked(StepPAN)
	return c.unlockWithStep()
}

// SubmitPAN verifies the PAN against the mobile number. A mismatch keeps the
// applicant on step 4 with PANPhoneMismatch set. Otherwise holdings are
// looked up and the flow advances 4 -> 5; with holdings present, offer
// sourcing fires once and a successful result advances 5 -> 6. A sourcing
// failure keeps step 5 committed and is returned as COLLABORATOR_UNAVAILABLE;
// RequestOffers retries it.
func (c *Controller) SubmitPAN(ctx context.Context, pan string) (Step, error) {
	const op = "submitPan"
	pan = strings.ToUpper(pan)

	c.mu.Lock()
	if c.session.Step != StepPAN {
		return c.rejectLocked(op, errors.NewStepNotApplicableError(op, int(c.session.Step)))
	}
	if res := validation.Var("panNumber", pan, panTag); !res.Valid {
		return c.rejectLocked(op, errors.NewInvalidInputError("panNumber", res.Summary()))
	}
	mobile := c.session.MobileNumber
	cl, err := c.beginLocked(ctx, op)
	if err != nil {
		return c.rejectLocked(op, err)
	}
	c.mu.Unlock()

	verdict, err := invoke(c, cl, "verifyPan", func(ctx context.Context) (PANVerdict, error) {
		return c.collab.PAN.VerifyPAN(ctx, pan, mobile)
	})
	var holdings HoldingsVerdict
	if err == nil && !verdict.Mismatch {
		holdings, err = invoke(c, cl, "lookupHoldings", func(ctx context.Context) (HoldingsVerdict, error) {
			return c.collab.Holdings.LookupHoldings(ctx, pan)
		})
	}

	c.mu.Lock()
	if err := c.finishLocked(cl, err); err != nil {
		return c.rejectLocked(op, err)
	}
	c.session.PANNumber = pan
	if verdict.Mismatch {
		c.session.PANVerified = false
		c.session.PANPhoneMismatch = true
		metrics.OperationsRejected.WithLabelValues(op, string(errors.ErrCodePANPhoneMismatch)).Inc()
		c.log.Info("PAN not linked to mobile number", map[string]interface{}{
			"maskedMobile": MaskMobile(mobile),
		})
		return c.unlockWithStep()
	}
	c.session.PANVerified = true
	c.session.PANPhoneMismatch = false
	c.session.HasInvestments = holdings.HasHoldings
	c.advanceLocked(StepHoldings)

	offersCall := c.enterHoldingsLocked(ctx)
	c.mu.Unlock()

	if offersCall != nil {
		if err := c.sourceOffers(offersCall); err != nil {
			return c.Step(), err
		}
	}
	return c.Step(), nil
}

// RequestOffers retries offer sourcing on step 5 after a failed attempt.
func (c *Controller) RequestOffers(ctx context.Context) (Step, error) {
	const op = "requestOffers"

	c.mu.Lock()
	if c.session.Step != StepHoldings || !c.session.HasInvestments {
		return c.rejectLocked(op, errors.NewStepNotApplicableError(op, int(c.session.Step)))
	}
	if c.inFlight != "" {
		return c.rejectLocked(op, errors.NewOperationInFlightError(op))
	}
	cl := c.enterHoldingsLocked(ctx)
	c.mu.Unlock()

	if cl == nil {
		return c.Step(), nil
	}
	if err := c.sourceOffers(cl); err != nil {
		return c.Step(), err
	}
	return c.Step(), nil
}

// ConfirmNoInvestments lets an applicant without holdings continue to the
// offer screen. Advances 5 -> 6.
func (c *Controller) ConfirmNoInvestments(ctx context.Context) (Step, error) {
	const op = "confirmNoInvestments"

	c.mu.Lock()
	if c.session.Step != StepHoldings || c.session.HasInvestments {
		return c.rejectLocked(op, errors.NewStepNotApplicableError(op, int(c.session.Step)))
	}
	if c.inFlight != "" {
		return c.rejectLocked(op, errors.NewOperationInFlightError(op))
	}
	c.advanceLocked(StepOffers)
	c.obs.RecordJourney(ctx, "no_investments_continued")
	return c.unlockWithStep()
}

// GoBackToStart resets the whole session from step 5 without holdings.
func (c *Controller) GoBackToStart(ctx context.Context) (Step, error) {
	const op = "goBackToStart"

	c.mu.Lock()
	if c.session.Step != StepHoldings || c.session.HasInvestments {
		return c.rejectLocked(op, errors.NewStepNotApplicableError(op, int(c.session.Step)))
	}
	c.resetLocked()
	c.obs.RecordJourney(ctx, "no_investments_reset")
	return c.unlockWithStep()
}

// Restart abandons the journey from any step, discarding any in-flight call.
func (c *Controller) Restart(ctx context.Context) Step {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.obs.RecordJourney(ctx, "restarted")
	return c.session.Step
}

// ToggleOfferDetails flips the offer-details panel and returns its new state.
func (c *Controller) ToggleOfferDetails() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session.OfferDetailsExpanded = !c.session.OfferDetailsExpanded
	return c.session.OfferDetailsExpanded
}

// ProceedToCreditSanction hands the chosen offer to the sanction desk: the
// best offer, else the lone offer, else the default partner offer. Repeated
// calls return the stored reference.
func (c *Controller) ProceedToCreditSanction(ctx context.Context) (string, error) {
	const op = "proceedToCreditSanction"

	c.mu.Lock()
	if c.session.Step != StepOffers {
		_, err := c.rejectLocked(op, errors.NewStepNotApplicableError(op, int(c.session.Step)))
		return "", err
	}
	if c.session.SanctionReference != "" {
		ref := c.session.SanctionReference
		c.mu.Unlock()
		return ref, nil
	}
	if c.collab.Sanction == nil {
		_, err := c.rejectLocked(op, errors.NewInternalError("sanction desk not configured"))
		return "", err
	}

	req := models.SanctionRequest{
		Reference:   uuid.NewString(),
		Applicant:   c.session.profile(),
		RequestedAt: c.now().UTC(),
	}
	if c.session.BestOffer != nil {
		req.Offer = c.session.BestOffer.Clone()
	} else {
		req.Offer, req.FallbackUsed = soleOrFallback(c.session.Offers)
	}

	cl, err := c.beginLocked(ctx, op)
	if err != nil {
		_, err = c.rejectLocked(op, err)
		return "", err
	}
	c.mu.Unlock()

	ref, err := invoke(c, cl, "requestSanction", func(ctx context.Context) (string, error) {
		return c.collab.Sanction.RequestSanction(ctx, req)
	})

	c.mu.Lock()
	if err := c.finishLocked(cl, err); err != nil {
		_, err = c.rejectLocked(op, err)
		return "", err
	}
	c.session.SanctionReference = ref
	c.log.Info("credit sanction requested", map[string]interface{}{
		"lender":       req.Offer.LenderName,
		"fallbackUsed": req.FallbackUsed,
		"reference":    ref,
	})
	c.obs.RecordJourney(ctx, "sanction_requested")
	c.mu.Unlock()
	return ref, nil
}

// ==========================
// Offer sourcing
// ==========================

// enterHoldingsLocked is the guarded "entered step 5 with holdings" trigger.
// It returns a started call the first time per entry and nil afterwards.
func (c *Controller) enterHoldingsLocked(ctx context.Context) *call {
	if c.session.Step != StepHoldings || !c.session.HasInvestments || c.offersRequested {
		return nil
	}
	cl, err := c.beginLocked(ctx, "sourceOffers")
	if err != nil {
		return nil
	}
	c.offersRequested = true
	c.session.OffersStatus = OffersPending
	return cl
}

func (c *Controller) sourceOffers(cl *call) error {
	c.mu.Lock()
	profile := c.session.profile()
	c.mu.Unlock()

	quotes, err := invoke(c, cl, "sourceOffers", func(ctx context.Context) ([]models.OfferQuote, error) {
		return c.collab.Offers.SourceOffers(ctx, profile)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.finishLocked(cl, err); err != nil {
		if !errors.HasCode(err, errors.ErrCodeStaleResult) {
			c.offersRequested = false
			c.session.OffersStatus = OffersFailed
		}
		metrics.OperationsRejected.WithLabelValues(cl.op, codeOf(err)).Inc()
		return err
	}

	valid := make([]models.OfferQuote, 0, len(quotes))
	for _, q := range quotes {
		if holding, overlaps := q.HoldingsOverlap(); overlaps {
			c.log.Warn("dropping quote with overlapping holdings", map[string]interface{}{
				"lender":  q.LenderName,
				"holding": holding,
			})
			continue
		}
		valid = append(valid, q.Clone())
	}

	evaluation := offers.Evaluate(valid)
	metrics.OffersEvaluated.Observe(float64(len(valid)))

	c.session.Offers = valid
	c.session.BestOffer = evaluation.Best
	c.session.OtherOffers = evaluation.Others
	c.session.OffersStatus = OffersReady
	c.advanceLocked(StepOffers)
	c.obs.RecordJourney(cl.ctx, "offers_shown")
	return nil
}

// ==========================
// Call bookkeeping
// ==========================

func (c *Controller) beginLocked(ctx context.Context, op string) (*call, error) {
	if c.inFlight != "" {
		return nil, errors.NewOperationInFlightError(op)
	}
	callCtx, cancel := context.WithCancel(ctx)
	c.inFlight = op
	c.cancel = cancel
	return &call{
		ctx:        callCtx,
		cancel:     cancel,
		op:         op,
		generation: c.session.Generation,
	}, nil
}

// finishLocked releases the single-flight slot. A call whose generation no
// longer matches the session yields STALE_RESULT and touches nothing.
func (c *Controller) finishLocked(cl *call, callErr error) error {
	cl.cancel()
	if cl.generation != c.session.Generation {
		c.log.Info("discarding result for reset session", map[string]interface{}{
			"operation":  cl.op,
			"generation": cl.generation,
		})
		return errors.NewStaleResultError(cl.op)
	}
	c.inFlight = ""
	c.cancel = nil
	return callErr
}

func (c *Controller) resetLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.inFlight = ""
	c.cancel = nil
	c.offersRequested = false

	from := c.session.Step
	c.session = newSession(c.session.Generation + 1)
	metrics.StepTransitions.WithLabelValues(from.String(), StepMobile.String()).Inc()
	c.log.Info("session reset", map[string]interface{}{
		"from":       from.String(),
		"generation": c.session.Generation,
	})
}

func (c *Controller) advanceLocked(to Step) {
	from := c.session.Step
	c.session.Step = to
	metrics.StepTransitions.WithLabelValues(from.String(), to.String()).Inc()
	c.log.Debug("step advanced", map[string]interface{}{
		"from":       from.String(),
		"to":         to.String(),
		"generation": c.session.Generation,
	})
}

// rejectLocked records a failed operation and releases the lock.
func (c *Controller) rejectLocked(op string, err error) (Step, error) {
	step := c.session.Step
	c.mu.Unlock()

	metrics.OperationsRejected.WithLabelValues(op, codeOf(err)).Inc()
	c.log.Debug("operation rejected", map[string]interface{}{
		"operation": op,
		"step":      int(step),
		"error":     err.Error(),
	})
	return step, err
}

func (c *Controller) unlockWithStep() (Step, error) {
	step := c.session.Step
	c.mu.Unlock()
	return step, nil
}

func codeOf(err error) string {
	if stdErr, ok := errors.AsStandard(err); ok {
		return string(stdErr.Code)
	}
	return string(errors.ErrCodeInternal)
}

// invoke runs one collaborator call under the controller's timeout. The wait
// is bounded even when the collaborator ignores its context; any failure is
// reported as COLLABORATOR_UNAVAILABLE.
func invoke[T any](c *Controller, cl *call, collaborator string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cl.ctx.Err(); err != nil {
		return zero, errors.NewCollaboratorUnavailableError(collaborator, err)
	}

	ctx, cancel := context.WithTimeout(cl.ctx, c.timeout)
	defer cancel()

	ctx, span := c.obs.StartSpan(ctx, "collaborator."+collaborator,
		attribute.String("operation", cl.op),
		attribute.String("generation", strconv.FormatUint(cl.generation, 10)),
	)

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = result{err: ctx.Err()}
	}
	elapsed := time.Since(start)

	outcome := "ok"
	switch {
	case res.err == nil:
	case ctx.Err() == context.DeadlineExceeded:
		outcome = "timeout"
	case ctx.Err() == context.Canceled:
		outcome = "cancelled"
	default:
		outcome = "error"
	}
	metrics.CollaboratorCalls.WithLabelValues(collaborator, outcome).Inc()
	metrics.CollaboratorDuration.WithLabelValues(collaborator).Observe(elapsed.Seconds())
	c.obs.RecordCollaboratorCall(ctx, collaborator, outcome, elapsed)
	observability.EndSpan(span, res.err)

	if res.err != nil {
		c.log.Warn("collaborator call failed", map[string]interface{}{
			"collaborator": collaborator,
			"operation":    cl.op,
			"outcome":      outcome,
			"error":        res.err.Error(),
			"elapsedMs":    elapsed.Milliseconds(),
		})
		return zero, errors.NewCollaboratorUnavailableError(collaborator, res.err)
	}
	return res.value, nil
}
