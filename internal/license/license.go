// Package license gates automatic update checks behind a vendor-issued
// license key. It has no bearing on discount behaviour.
package license

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// StatusValid is the vendor's response status for an activated license.
const StatusValid = "valid"

// Settings option keys.
const (
	KeyOption    = "license_key"
	StatusOption = "license_status"
)

// Settings is the key/value options storage backing the license key and its
// activation status.
type Settings interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Activator activates license keys against the vendor API.
type Activator struct {
	settings Settings
	client   *http.Client
	storeURL string
	itemName string
}

// NewActivator creates an Activator for the given vendor store URL and
// product name. Activation is a one-shot GET with no retry loop.
func NewActivator(settings Settings, storeURL, itemName string) *Activator {
	return &Activator{
		settings: settings,
		client:   &http.Client{Timeout: 15 * time.Second},
		storeURL: storeURL,
		itemName: itemName,
	}
}

// Activate stores the key and asks the vendor API to activate it. Transport
// failures are swallowed: the worst case is a license that stays inactive,
// never a failed settings save. Re-activation of an already valid license is
// skipped.
func (a *Activator) Activate(ctx context.Context, key string) error {
	if err := a.settings.Set(ctx, KeyOption, key); err != nil {
		return errors.Wrap(err, "store license key")
	}

	status, err := a.settings.Get(ctx, StatusOption)
	if err == nil && status == StatusValid {
		return nil
	}

	result, ok := a.remoteActivate(ctx, key)
	if !ok {
		return nil
	}

	if err := a.settings.Set(ctx, StatusOption, result); err != nil {
		return errors.Wrap(err, "store license status")
	}
	return nil
}

// Status returns the stored activation status, or empty when never activated.
func (a *Activator) Status(ctx context.Context) (string, error) {
	return a.settings.Get(ctx, StatusOption)
}

// remoteActivate performs the vendor API call. Any transport or decode
// failure reports ok=false and is otherwise ignored.
func (a *Activator) remoteActivate(ctx context.Context, key string) (status string, ok bool) {
	q := url.Values{}
	q.Set("edd_action", "activate_license")
	q.Set("license", key)
	q.Set("item_name", a.itemName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.storeURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", false
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", false
	}

	status, err = decodeLicenseStatus(body)
	if err != nil {
		return "", false
	}
	return status, true
}

// decodeLicenseStatus extracts the "license" field from the vendor's JSON
// response, e.g. {"license":"valid","item_name":"..."}.
func decodeLicenseStatus(body []byte) (string, error) {
	d := jx.DecodeBytes(body)

	var status string
	if err := d.Obj(func(d *jx.Decoder, k string) error {
		if k != "license" {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		status = v
		return nil
	}); err != nil {
		return "", errors.Wrap(err, "decode license response")
	}
	if status == "" {
		return "", errors.New("response missing license status")
	}
	return status, nil
}
