package application

import (
	"errors"
	"testing"
	"time"

	"navi-gateway/middleware/ratelimit/domain"
)

type fakeLimiter struct {
	allow bool
	retry int
	calls *int
}

func (f fakeLimiter) Check(key domain.Key, p domain.Policy, _ time.Time) domain.Decision {
	if f.calls != nil {
		*f.calls++
	}
	dec := domain.Decision{Allowed: f.allow, Key: key, Policy: p}
	if !f.allow {
		dec.RetryAfter = f.retry
	}
	return dec
}

func TestNewService_RejectsPolicyWithoutLimiter(t *testing.T) {
	_, err := NewService(fakeLimiter{allow: true}, nil,
		domain.WindowPolicy(ClassDefault, 60, time.Minute),
		domain.BucketPolicy(ClassUpload, 10, time.Minute),
	)
	if !errors.Is(err, domain.ErrMissingLimiter) {
		t.Fatalf("expected ErrMissingLimiter for bucket policy without bucket limiter, got %v", err)
	}

	_, err = NewService(nil, fakeLimiter{allow: true}, domain.WindowPolicy(ClassDefault, 60, time.Minute))
	if !errors.Is(err, domain.ErrMissingLimiter) {
		t.Fatalf("expected ErrMissingLimiter for window policy without window limiter, got %v", err)
	}
}

func TestNewService_AcceptsWhenEveryAlgorithmIsCovered(t *testing.T) {
	svc, err := NewService(fakeLimiter{allow: true}, nil,
		domain.WindowPolicy(ClassDefault, 60, time.Minute),
		domain.WindowPolicy(ClassLogin, 5, time.Minute),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec := svc.Decide("k", domain.WindowPolicy(ClassDefault, 60, time.Minute)); !dec.Allowed {
		t.Fatalf("expected allowed")
	}
}

func TestService_Decide_UsesWindowForWindowPolicies(t *testing.T) {
	var windowCalls, bucketCalls int
	svc := Service{
		Window: fakeLimiter{allow: false, retry: 7, calls: &windowCalls},
		Bucket: fakeLimiter{allow: true, calls: &bucketCalls},
	}

	dec := svc.Decide("ip1:login", domain.WindowPolicy(ClassLogin, 5, time.Minute))
	if dec.Allowed {
		t.Fatalf("expected blocked by the window limiter")
	}
	if dec.RetryAfter != 7 {
		t.Fatalf("expected RetryAfter=7, got %d", dec.RetryAfter)
	}
	if windowCalls != 1 || bucketCalls != 0 {
		t.Fatalf("expected only window consulted, window=%d bucket=%d", windowCalls, bucketCalls)
	}
}

func TestService_Decide_UsesBucketForBucketPolicies(t *testing.T) {
	var windowCalls, bucketCalls int
	svc := Service{
		Window: fakeLimiter{allow: true, calls: &windowCalls},
		Bucket: fakeLimiter{allow: false, retry: 2, calls: &bucketCalls},
	}

	dec := svc.Decide("ip1:upload", domain.BucketPolicy(ClassUpload, 10, time.Minute))
	if dec.Allowed {
		t.Fatalf("expected blocked by the bucket limiter")
	}
	if windowCalls != 0 || bucketCalls != 1 {
		t.Fatalf("expected only bucket consulted, window=%d bucket=%d", windowCalls, bucketCalls)
	}
}

func TestService_Decide_PassesClock(t *testing.T) {
	fixed := time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC)
	var seen time.Time
	svc := Service{
		Window: limiterFunc(func(key domain.Key, p domain.Policy, now time.Time) domain.Decision {
			seen = now
			return domain.Decision{Allowed: true, Key: key, Policy: p}
		}),
		Now: func() time.Time { return fixed },
	}

	svc.Decide("k", domain.WindowPolicy(ClassDefault, 1, time.Minute))
	if !seen.Equal(fixed) {
		t.Fatalf("expected limiter to see the injected clock, got %s", seen)
	}
}

type limiterFunc func(domain.Key, domain.Policy, time.Time) domain.Decision

func (f limiterFunc) Check(key domain.Key, p domain.Policy, now time.Time) domain.Decision {
	return f(key, p, now)
}
