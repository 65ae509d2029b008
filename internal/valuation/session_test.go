package valuation

import (
	"context"
	"sync"
	"testing"
	"time"

	"estimo/server/internal/chart"
	"estimo/server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// blockingGeocoder holds every call until release is closed.
type blockingGeocoder struct {
	entered chan struct{}
	release chan struct{}
	result  *models.GeocodeResult
	once    sync.Once
}

func (b *blockingGeocoder) Geocode(ctx context.Context, _ models.GeocodeRequest) (*models.GeocodeResult, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.result, nil
}

func successPredictor() *MockPredictor {
	p := &MockPredictor{}
	p.On("Predict", mock.Anything, mock.Anything).Return(&models.ValuationResult{
		Success:                 true,
		PredictedPriceFormatted: "300,000.00 €",
		PostalCode:              "75008",
	}, nil)
	return p
}

func TestSession_RejectsReentry(t *testing.T) {
	g := &blockingGeocoder{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		result:  &models.GeocodeResult{Success: false},
	}
	o := NewOrchestrator(g, successPredictor(), chart.DefaultPlotArea, testLogger())
	s := NewSession(o, 0, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), validAddress(), validProperty())
		done <- err
	}()

	<-g.entered
	assert.True(t, s.Busy())
	assert.Equal(t, StateGeocoding, s.State())

	_, err := s.Submit(context.Background(), validAddress(), validProperty())
	assert.ErrorIs(t, err, ErrBusy)

	close(g.release)
	err = <-done
	assert.ErrorIs(t, err, ErrGeocode)

	assert.False(t, s.Busy())
	assert.Equal(t, StateIdle, s.State())
	require.NotNil(t, s.Last())
	assert.Equal(t, StateFailed, s.Last().State)
}

func TestSession_ErrorNoticePersists(t *testing.T) {
	g := &MockGeocoder{}
	g.On("Geocode", mock.Anything, mock.Anything).Return(&models.GeocodeResult{Success: false}, nil)
	s := NewSession(NewOrchestrator(g, &MockPredictor{}, chart.DefaultPlotArea, testLogger()), 10*time.Millisecond, testLogger())

	_, err := s.Submit(context.Background(), validAddress(), validProperty())
	require.Error(t, err)

	time.Sleep(30 * time.Millisecond)
	notice := s.Notice()
	assert.Equal(t, MessageAddressNotFound, notice.Text)
	assert.Equal(t, SeverityError, notice.Severity)
	assert.False(t, s.Busy())

	s.Dismiss()
	assert.True(t, s.Notice().Empty())
}

func TestSession_ValidationNoticeIsWarning(t *testing.T) {
	s := NewSession(NewOrchestrator(&MockGeocoder{}, &MockPredictor{}, chart.DefaultPlotArea, testLogger()), 0, testLogger())

	property := validProperty()
	property.SurfaceM2 = ""
	_, err := s.Submit(context.Background(), validAddress(), property)

	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, SeverityWarning, s.Notice().Severity)
	assert.False(t, s.Busy())
}

func TestSession_SuccessNoticeAutoDismisses(t *testing.T) {
	g := &MockGeocoder{}
	g.On("Geocode", mock.Anything, mock.Anything).Return(found(), nil)
	s := NewSession(NewOrchestrator(g, successPredictor(), chart.DefaultPlotArea, testLogger()), 20*time.Millisecond, testLogger())
	defer s.Close()

	est, err := s.Submit(context.Background(), validAddress(), validProperty())
	require.NoError(t, err)
	assert.Equal(t, "300,000.00 €", est.Result.PredictedPriceFormatted)
	assert.Equal(t, Notice{Text: MessageSuccess, Severity: SeveritySuccess}, s.Notice())
	assert.Equal(t, StateSucceeded, s.Last().State)

	assert.Eventually(t, func() bool { return s.Notice().Empty() }, time.Second, 5*time.Millisecond)
	assert.NotNil(t, s.Last().Estimate, "dismissing the notice keeps the result")
}

func TestSession_NewSubmissionCancelsDismissTimer(t *testing.T) {
	g := &MockGeocoder{}
	g.On("Geocode", mock.Anything, mock.Anything).Return(found(), nil).Once()
	g.On("Geocode", mock.Anything, mock.Anything).Return(&models.GeocodeResult{Success: false}, nil).Once()
	s := NewSession(NewOrchestrator(g, successPredictor(), chart.DefaultPlotArea, testLogger()), 30*time.Millisecond, testLogger())

	_, err := s.Submit(context.Background(), validAddress(), validProperty())
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), validAddress(), validProperty())
	require.Error(t, err)

	// The first submission's timer must not clear the second one's notice.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, MessageAddressNotFound, s.Notice().Text)
}

func TestSession_BusyClearedOnPanic(t *testing.T) {
	g := &MockGeocoder{}
	g.On("Geocode", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
	s := NewSession(NewOrchestrator(g, &MockPredictor{}, chart.DefaultPlotArea, testLogger()), 0, testLogger())

	assert.Panics(t, func() {
		_, _ = s.Submit(context.Background(), validAddress(), validProperty())
	})
	assert.False(t, s.Busy())
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_ObserverSeesEveryState(t *testing.T) {
	g := &MockGeocoder{}
	g.On("Geocode", mock.Anything, mock.Anything).Return(found(), nil)
	s := NewSession(NewOrchestrator(g, successPredictor(), chart.DefaultPlotArea, testLogger()), 0, testLogger())

	var states []State
	s.Observe(func(st State) { states = append(states, st) })

	_, err := s.Submit(context.Background(), validAddress(), validProperty())
	require.NoError(t, err)
	assert.Equal(t, []State{StateValidating, StateGeocoding, StatePredicting, StateSucceeded}, states)
}
