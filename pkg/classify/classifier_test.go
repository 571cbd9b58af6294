package classify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/renewal/pkg/browser/browsertest"
	"github.com/entrhq/renewal/pkg/logging"
	"github.com/entrhq/renewal/pkg/metrics"
	"github.com/entrhq/renewal/pkg/portal"
	"github.com/entrhq/renewal/pkg/types"
)

const submissionURL = "https://portal.example/mypos/#/search-subscriber/14523678"

// page is a scripted post-submission page.
type page struct {
	mu              sync.Mutex
	errorBanner     string
	successMessage  string
	continueVisible bool
	scriptErr       error
	onBanner        func(s *browsertest.Session)
}

func (p *page) session() *browsertest.Session {
	s := browsertest.NewSession("classify")
	s.SetURL(submissionURL)
	s.OnEvaluate(func(s *browsertest.Session, script string, _ any) (any, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.scriptErr != nil {
			return nil, p.scriptErr
		}
		switch script {
		case portal.ScriptReadErrorBanner:
			if p.errorBanner != "" && p.onBanner != nil {
				p.onBanner(s)
			}
			return p.errorBanner, nil
		case portal.ScriptReadSuccessBanner:
			return p.successMessage, nil
		case portal.ScriptIsVisible:
			return p.continueVisible, nil
		}
		return nil, nil
	})
	return s
}

func newClassifier(t *testing.T, opts ...Option) *Classifier {
	t.Helper()
	opts = append([]Option{WithGraceDelay(20 * time.Millisecond), WithLogger(logging.Discard())}, opts...)
	c, err := New(portal.DefaultProfile(), opts...)
	require.NoError(t, err)
	return c
}

func TestSuccessBannerOnFirstPoll(t *testing.T) {
	p := &page{successMessage: "Réabonnement effectué avec succès"}
	out := newClassifier(t).Classify(context.Background(), p.session(), 15, 10*time.Millisecond)

	assert.Equal(t, types.OutcomeSuccess, out.Status())
	assert.Equal(t, 1, out.Iterations())
	assert.Contains(t, out.Message(), "succès")
}

func TestErrorBannerCategories(t *testing.T) {
	tests := []struct {
		name     string
		banner   string
		category types.ErrorCategory
		code     string
	}{
		{"insufficient balance", "Solde insuffisant (DTA-1009)", types.CategoryInsufficientBalance, "DTA-1009"},
		{"unmapped code", "Erreur interne (DTA-4040)", types.CategoryUnknown, "DTA-4040"},
		{"no code", "Service indisponible", types.CategoryUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &page{errorBanner: tt.banner, successMessage: "succès"}
			out := newClassifier(t).Classify(context.Background(), p.session(), 5, 10*time.Millisecond)

			assert.Equal(t, types.OutcomeError, out.Status())
			assert.Equal(t, tt.category, out.Category())
			assert.Equal(t, tt.code, out.Code())
			assert.Equal(t, tt.banner, out.Message())
			assert.Equal(t, 1, out.Iterations())
		})
	}
}

func TestTransientOptionBannerIsDiscarded(t *testing.T) {
	p := &page{errorBanner: "Please select a payment mean"}
	// The portal redirects to the receipt while the banner is still up.
	p.onBanner = func(s *browsertest.Session) {
		s.SetURL("https://portal.example/mypos/reports/frameset?ref=77")
	}
	out := newClassifier(t).Classify(context.Background(), p.session(), 5, 10*time.Millisecond)

	assert.Equal(t, types.OutcomeSuccess, out.Status())
	assert.Equal(t, 1, out.Iterations())
}

func TestPersistentOptionBannerIsError(t *testing.T) {
	p := &page{errorBanner: "Veuillez choisir un moyen de paiement"}
	out := newClassifier(t).Classify(context.Background(), p.session(), 5, 10*time.Millisecond)

	assert.Equal(t, types.OutcomeError, out.Status())
	assert.Equal(t, types.CategoryOptionNotSelected, out.Category())
}

func TestContinueButtonMeansSuccess(t *testing.T) {
	p := &page{continueVisible: true}
	out := newClassifier(t).Classify(context.Background(), p.session(), 5, 10*time.Millisecond)
	assert.Equal(t, types.OutcomeSuccess, out.Status())
}

func TestSuccessLocation(t *testing.T) {
	p := &page{}
	s := p.session()
	s.SetURL("https://portal.example/mypos/#/invoice/991")

	out := newClassifier(t).Classify(context.Background(), s, 5, 10*time.Millisecond)
	assert.Equal(t, types.OutcomeSuccess, out.Status())
	assert.Contains(t, out.Message(), "*invoice*")
}

func TestTimeoutIsBounded(t *testing.T) {
	const (
		iterations = 5
		interval   = 20 * time.Millisecond
	)
	p := &page{}
	start := time.Now()
	out := newClassifier(t).Classify(context.Background(), p.session(), iterations, interval)
	elapsed := time.Since(start)

	assert.Equal(t, types.OutcomeTimeout, out.Status())
	assert.Equal(t, iterations, out.Iterations())
	assert.Less(t, elapsed, iterations*interval+50*time.Millisecond)
}

func TestGraceDelayStaysWithinBound(t *testing.T) {
	p := &page{errorBanner: "payment mean"}
	c := newClassifier(t, WithGraceDelay(time.Hour))

	start := time.Now()
	out := c.Classify(context.Background(), p.session(), 3, 10*time.Millisecond)

	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, types.OutcomeError, out.Status())
	assert.Equal(t, types.CategoryOptionNotSelected, out.Category())
}

func TestFinalCheckOutsidePortalIsSuccess(t *testing.T) {
	p := &page{}
	s := p.session()
	s.SetURL("https://receipts.example.com/r/1")

	out := newClassifier(t).Classify(context.Background(), s, 3, 10*time.Millisecond)
	assert.Equal(t, types.OutcomeSuccess, out.Status())
	assert.Equal(t, 3, out.Iterations())
}

func TestScriptFailuresAreNotSignals(t *testing.T) {
	p := &page{scriptErr: errors.New("execution context destroyed")}
	out := newClassifier(t).Classify(context.Background(), p.session(), 3, 10*time.Millisecond)
	assert.Equal(t, types.OutcomeTimeout, out.Status())
}

func TestCancelledContextEndsPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &page{}
	start := time.Now()
	out := newClassifier(t).Classify(ctx, p.session(), 15, time.Second)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, types.OutcomeTimeout, out.Status())
	assert.Equal(t, 1, out.Iterations())
}

func TestClassifyRecordsMetrics(t *testing.T) {
	m := metrics.New()
	p := &page{errorBanner: "Solde insuffisant (DTA-1009)"}
	newClassifier(t, WithMetrics(m)).Classify(context.Background(), p.session(), 3, 10*time.Millisecond)

	count, err := testutil.GatherAndCount(m.Registry(), "renewal_classifier_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewRejectsBadPattern(t *testing.T) {
	profile := portal.DefaultProfile()
	profile.SuccessURLs = []string{"[oops"}
	_, err := New(profile)
	assert.Error(t, err)
}
