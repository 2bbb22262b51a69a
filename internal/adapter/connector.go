// Package adapter holds one connector per marketing platform. Each connector
// authenticates, calls its vendor API and reduces the responses to a single
// normalized metrics record.
package adapter

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/funnel-metrics/internal/calc"
	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/logging"
	"github.com/funnel-metrics/internal/types"
)

// Window is the trailing reporting window used by every connector
const Window = 30 * 24 * time.Hour

// Connector fetches normalized metrics for one platform.
//
// Fetch authenticates first and fails fast on rejected credentials, resolves
// the sub-resource (list, property, account), then runs the primary call and
// the secondary calls concurrently. A failed primary call fails the fetch; a
// failed secondary call only leaves its fields at their zero value.
type Connector interface {
	Platform() types.Platform
	Fetch(ctx context.Context, cred types.Credential) (types.Metrics, error)
}

// Clock returns the current time; connectors take one so windows are testable
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// call is one named vendor request run by fanOut
type call struct {
	name    string
	primary bool
	run     func(ctx context.Context) error
}

// fanOut runs calls concurrently and waits for all of them. It returns the
// first primary failure; secondary failures are logged and dropped.
func fanOut(ctx context.Context, platform types.Platform, calls ...call) error {
	errs := make([]error, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, c call) {
			defer wg.Done()
			errs[i] = c.run(ctx)
		}(i, c)
	}
	wg.Wait()

	logger := logging.FromContext(ctx)
	for i, c := range calls {
		if errs[i] == nil {
			continue
		}
		if c.primary {
			return errors.AsPrimary(errs[i])
		}
		logger.WithFields(map[string]interface{}{
			"platform": platform,
			"call":     c.name,
		}).WithError(errs[i]).Warn("Secondary vendor call failed, continuing without it")
	}
	return nil
}

// flexNumber accepts a JSON number or a numeric string. Several vendors
// encode 64-bit integers as strings.
type flexNumber string

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*n = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*n = flexNumber(str)
		return nil
	}
	*n = flexNumber(s)
	return nil
}

func (n flexNumber) Int() int64 { return calc.ParseInt(string(n)) }

func (n flexNumber) Float() float64 { return calc.ParseFloat(string(n)) }

// wrongCredential is returned when a connector is handed another platform's credential
func wrongCredential(platform types.Platform, cred types.Credential) error {
	got := "nil"
	if cred != nil {
		got = string(cred.Platform())
	}
	return errors.NewInvalidCredentialError(platform, "expected a "+string(platform)+" credential, got "+got)
}

// asAuth re-tags a failed token exchange as an auth failure, keeping the
// vendor's text
func asAuth(err error) error {
	var connErr *errors.ConnectorError
	if !stderrors.As(err, &connErr) {
		return err
	}
	cp := *connErr
	cp.Kind = errors.KindAuth
	return &cp
}

// nextLink returns the rel="next" target of an RFC 8288 Link header
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		isNext := false
		for _, param := range segments[1:] {
			if strings.EqualFold(strings.ReplaceAll(strings.TrimSpace(param), " ", ""), `rel="next"`) {
				isNext = true
			}
		}
		if !isNext {
			continue
		}
		target := strings.TrimSpace(segments[0])
		return strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
	}
	return ""
}
