package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsBackend implements the licensing contract against a Google Sheets
// workbook, the same authority model the hosted Apps Script endpoint fronts in
// production. Tab layout:
//
//	Licenses:    license_id | email | type | status | max_activations | expires_at
//	Activations: license_id | machine_id_hash | activated_at | last_seen_at | active
//	UsageLogs:   id | license_id | converter_name | file_size | success | created_at
type SheetsBackend struct {
	svc            *sheets.Service
	sheetID        string
	licensesTab    string
	activationsTab string
	usageTab       string
	logger         *slog.Logger
}

// SheetsConfig configures the Sheets adapter
type SheetsConfig struct {
	SheetID        string
	APIKey         string
	LicensesTab    string
	ActivationsTab string
	UsageTab       string
}

// NewSheetsBackend creates the Sheets adapter
func NewSheetsBackend(ctx context.Context, cfg SheetsConfig, logger *slog.Logger) (*SheetsBackend, error) {
	if cfg.SheetID == "" {
		return nil, fmt.Errorf("sheets backend requires a sheet ID")
	}
	if logger == nil {
		logger = slog.Default()
	}
	svc, err := sheets.NewService(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &SheetsBackend{
		svc:            svc,
		sheetID:        cfg.SheetID,
		licensesTab:    orDefault(cfg.LicensesTab, "Licenses"),
		activationsTab: orDefault(cfg.ActivationsTab, "Activations"),
		usageTab:       orDefault(cfg.UsageTab, "UsageLogs"),
		logger:         logger.With(slog.String("component", "remote_sheets")),
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

type licenseRow struct {
	state          LicenseState
	maxActivations int
}

// Activate registers the machine hash against the license seat count. The
// sheet is the seat ledger: an already-active hash re-activates idempotently,
// a new hash beyond max_activations is rejected.
func (b *SheetsBackend) Activate(ctx context.Context, licenseID, machineIDHash string) (*ActivationResult, error) {
	lic, err := b.findLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	if lic.state != StateActive {
		return nil, fmt.Errorf("%w: license state is %s", ErrAuth, lic.state)
	}

	rows, err := b.readRange(ctx, b.activationsTab)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	activeCount := 0
	for i, row := range rows {
		if i == 0 || len(row) < 5 || str(row[0]) != licenseID {
			continue
		}
		active := parseBool(str(row[4]))
		if !active {
			continue
		}
		if str(row[1]) == machineIDHash {
			// Seat already held by this machine; refresh last_seen_at.
			rng := fmt.Sprintf("%s!D%d", b.activationsTab, i+1)
			_, uerr := b.svc.Spreadsheets.Values.Update(b.sheetID, rng, &sheets.ValueRange{
				Values: [][]interface{}{{now.Format(time.RFC3339)}},
			}).ValueInputOption("RAW").Context(ctx).Do()
			if uerr != nil {
				return nil, classifySheetsErr(uerr)
			}
			return &ActivationResult{
				Record: ActivationRecord{
					LicenseID:     licenseID,
					MachineIDHash: machineIDHash,
					ActivatedAt:   parseTime(str(row[2])),
					LastSeenAt:    now,
					Active:        true,
				},
				ActiveCount:    activeCount + 1,
				MaxActivations: lic.maxActivations,
			}, nil
		}
		activeCount++
	}

	if activeCount >= lic.maxActivations {
		return nil, ErrLimitReached
	}

	_, err = b.svc.Spreadsheets.Values.Append(b.sheetID, b.activationsTab, &sheets.ValueRange{
		Values: [][]interface{}{{
			licenseID, machineIDHash,
			now.Format(time.RFC3339), now.Format(time.RFC3339), "TRUE",
		}},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return nil, classifySheetsErr(err)
	}

	return &ActivationResult{
		Record: ActivationRecord{
			LicenseID:     licenseID,
			MachineIDHash: machineIDHash,
			ActivatedAt:   now,
			LastSeenAt:    now,
			Active:        true,
		},
		ActiveCount:    activeCount + 1,
		MaxActivations: lic.maxActivations,
	}, nil
}

// CheckStatus reads the license row state
func (b *SheetsBackend) CheckStatus(ctx context.Context, licenseID string) (*StatusResult, error) {
	lic, err := b.findLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{State: lic.state, CheckedAt: time.Now().UTC()}, nil
}

// Deactivate marks this machine's activation row inactive
func (b *SheetsBackend) Deactivate(ctx context.Context, licenseID, machineIDHash string) error {
	rows, err := b.readRange(ctx, b.activationsTab)
	if err != nil {
		return err
	}
	for i, row := range rows {
		if i == 0 || len(row) < 5 {
			continue
		}
		if str(row[0]) == licenseID && str(row[1]) == machineIDHash {
			rng := fmt.Sprintf("%s!E%d", b.activationsTab, i+1)
			_, err := b.svc.Spreadsheets.Values.Update(b.sheetID, rng, &sheets.ValueRange{
				Values: [][]interface{}{{"FALSE"}},
			}).ValueInputOption("RAW").Context(ctx).Do()
			if err != nil {
				return classifySheetsErr(err)
			}
			return nil
		}
	}
	return ErrNotFound
}

// LogUsage appends conversion events to the usage tab
func (b *SheetsBackend) LogUsage(ctx context.Context, events []UsageEvent) error {
	if len(events) == 0 {
		return nil
	}
	values := make([][]interface{}, 0, len(events))
	for _, e := range events {
		values = append(values, []interface{}{
			e.ID, e.LicenseID, e.ConverterName,
			strconv.FormatInt(e.FileSize, 10),
			strconv.FormatBool(e.Success),
			e.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	_, err := b.svc.Spreadsheets.Values.Append(b.sheetID, b.usageTab, &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return classifySheetsErr(err)
	}
	return nil
}

func (b *SheetsBackend) findLicense(ctx context.Context, licenseID string) (*licenseRow, error) {
	rows, err := b.readRange(ctx, b.licensesTab)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if i == 0 || len(row) < 5 || str(row[0]) != licenseID {
			continue
		}
		maxAct, _ := strconv.Atoi(str(row[4]))
		if maxAct < 1 {
			maxAct = 1
		}
		return &licenseRow{
			state:          mapSheetState(str(row[3])),
			maxActivations: maxAct,
		}, nil
	}
	return nil, ErrNotFound
}

func (b *SheetsBackend) readRange(ctx context.Context, tab string) ([][]interface{}, error) {
	resp, err := b.svc.Spreadsheets.Values.Get(b.sheetID, tab).Context(ctx).Do()
	if err != nil {
		return nil, classifySheetsErr(err)
	}
	return resp.Values, nil
}

func mapSheetState(s string) LicenseState {
	switch s {
	case "active", "Active", "Available", "Activated":
		return StateActive
	case "revoked", "Revoked":
		return StateRevoked
	case "suspended", "Suspended":
		return StateSuspended
	case "expired", "Expired":
		return StateExpired
	default:
		return StateNotFound
	}
}

func classifySheetsErr(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return fmt.Errorf("%w: %v", ErrAuth, err)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", ErrServer, err)
		default:
			return fmt.Errorf("%w: %v", ErrServer, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
