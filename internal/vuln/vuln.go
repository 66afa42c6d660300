// Package vuln reconciles per-device vulnerability findings with catalog
// changes. The updater calls DropRemediated after a firmware change so
// findings whose remediation is the update itself do not linger.
package vuln

import (
	"context"

	"github.com/rs/zerolog"

	"fleetscope/fw-core/internal/sqlcgen"
)

// RemediationFirmwareUpdate tags findings that a firmware change resolves.
const RemediationFirmwareUpdate = "firmware_update"

// Queries is the minimal DB interface the reconciler needs.
type Queries interface {
	ListVulnerabilities(ctx context.Context, deviceID string) ([]sqlcgen.Vulnerability, error)
	DeleteVulnerabilitiesByRemediation(ctx context.Context, arg sqlcgen.DeleteVulnerabilitiesByRemediationParams) (int64, error)
	DeleteVulnerabilities(ctx context.Context, deviceID string) error
	InsertVulnerability(ctx context.Context, arg sqlcgen.InsertVulnerabilityParams) error
}

type Reconciler struct {
	log zerolog.Logger
	q   Queries
}

func New(log zerolog.Logger, q Queries) *Reconciler {
	return &Reconciler{log: log, q: q}
}

// DropRemediated removes findings remediated by a firmware update and
// returns how many were dropped.
func (r *Reconciler) DropRemediated(ctx context.Context, deviceID string) (int64, error) {
	dropped, err := r.q.DeleteVulnerabilitiesByRemediation(ctx, sqlcgen.DeleteVulnerabilitiesByRemediationParams{
		DeviceID:    deviceID,
		Remediation: RemediationFirmwareUpdate,
	})
	if err != nil {
		return 0, err
	}
	if dropped > 0 {
		r.log.Info().
			Str("device_id", deviceID).
			Int64("dropped", dropped).
			Msg("vulnerabilities remediated by firmware update")
	}
	return dropped, nil
}

// List returns the device's current findings.
func (r *Reconciler) List(ctx context.Context, deviceID string) ([]sqlcgen.Vulnerability, error) {
	return r.q.ListVulnerabilities(ctx, deviceID)
}

// Replace swaps the device's findings for the given set.
func (r *Reconciler) Replace(ctx context.Context, deviceID string, findings []sqlcgen.Vulnerability) error {
	if err := r.q.DeleteVulnerabilities(ctx, deviceID); err != nil {
		return err
	}
	for _, f := range findings {
		if err := r.q.InsertVulnerability(ctx, sqlcgen.InsertVulnerabilityParams{
			DeviceID:    deviceID,
			Title:       f.Title,
			Severity:    f.Severity,
			Remediation: f.Remediation,
		}); err != nil {
			return err
		}
	}
	return nil
}
