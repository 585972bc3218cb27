package metrics

import (
	"errors"
	"testing"

	"escrowledger/internal/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObservePosting(t *testing.T) {
	posted := LedgerPostings.WithLabelValues(string(domain.EntryRelease), "posted")
	short := LedgerPostings.WithLabelValues(string(domain.EntryRelease), string(domain.ReasonInsufficientFunds))
	before, beforeShort := testutil.ToFloat64(posted), testutil.ToFloat64(short)

	ObservePosting(domain.EntryRelease, nil)
	ObservePosting(domain.EntryRelease, errors.Join(domain.ErrInsufficientFunds))

	assert.Equal(t, before+1, testutil.ToFloat64(posted))
	assert.Equal(t, beforeShort+1, testutil.ToFloat64(short))
}

func TestObserveEvent(t *testing.T) {
	c := PaymentEvents.WithLabelValues(string(domain.EventPaymentSucceeded), string(domain.OutcomeDuplicate))
	before := testutil.ToFloat64(c)

	ObserveEvent(domain.EventPaymentSucceeded, string(domain.OutcomeDuplicate))

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
