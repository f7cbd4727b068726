package worker

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		exhausted bool
		outcome   Outcome
		want      action
	}{
		{"okAcks", false, Ok(), actionAck},
		{"okAcksEvenExhausted", true, Ok(), actionAck},
		{"permanentGoesToDLQImmediately", false, Permanent(errors.New("no channel")), actionDeadLetter},
		{"transientRetries", false, Transient(errors.New("network")), actionRetry},
		{"transientExhaustedGoesToDLQ", true, Transient(errors.New("network")), actionDeadLetter},
		{"floodWaitRetries", false, FloodWait(30 * time.Second), actionRetry},
		{"floodWaitExhaustedGoesToDLQ", true, FloodWait(30 * time.Second), actionDeadLetter},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := decide(tc.exhausted, tc.outcome); got != tc.want {
				t.Errorf("decide(%v, %v) = %v, want %v", tc.exhausted, tc.outcome, got, tc.want)
			}
		})
	}
}

func TestOutcomeAccessors(t *testing.T) {
	t.Parallel()

	if !Ok().IsOk() {
		t.Error("Ok().IsOk() = false")
	}
	if Ok().Err() != nil || Ok().Wait() != 0 {
		t.Error("Ok() carries payload")
	}

	fw := FloodWait(42 * time.Second)
	if fw.IsOk() || fw.Wait() != 42*time.Second {
		t.Errorf("FloodWait() = %+v", fw)
	}

	err := errors.New("boom")
	if Transient(err).Err() != err || Permanent(err).Err() != err {
		t.Error("error outcome lost its error")
	}
}
