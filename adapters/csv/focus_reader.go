package csv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/errors"
	"cloud-cost-allocation/internal/logging"
)

// FOCUS timestamps come in several ISO 8601 flavors
var chargePeriodLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// FocusReader reads cloud costs exported in the FOCUS format. Every line
// must cover exactly one day.
type FocusReader struct {
	cfg     *config.Config
	factory *types.Factory
	logger  *zap.Logger
}

// NewFocusReader creates a FOCUS cost reader
func NewFocusReader(cfg *config.Config) *FocusReader {
	return &FocusReader{
		cfg:     cfg,
		factory: types.NewFactory(cfg),
		logger:  logging.Named("focus-reader"),
	}
}

// ReadURI reads the costs of a file path or http(s) URL
func (r *FocusReader) ReadURI(ctx context.Context, uri string) ([]*types.CloudCostRecord, error) {
	body, err := Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return r.Read(body)
}

// Read reads cloud records. A malformed line fails the whole read.
func (r *FocusReader) Read(in io.Reader) ([]*types.CloudCostRecord, error) {
	var records []*types.CloudCostRecord
	err := eachRow(in, func(line row) error {
		record, err := r.readLine(line)
		if err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("Read FOCUS cloud costs", zap.Int("records", len(records)))
	return records, nil
}

func (r *FocusReader) readLine(line row) (*types.CloudCostRecord, error) {
	c := r.factory.NewCloudCostRecord()

	start, err := parseChargePeriod(line.value("ChargePeriodStart"))
	if err != nil {
		return nil, errors.Wrapf(errors.TypeParsing, err, "line %d: invalid ChargePeriodStart", line.line)
	}
	end, err := parseChargePeriod(line.value("ChargePeriodEnd"))
	if err != nil {
		return nil, errors.Wrapf(errors.TypeParsing, err, "line %d: invalid ChargePeriodEnd", line.line)
	}
	if !start.AddDate(0, 0, 1).Equal(end) {
		return nil, errors.Newf(errors.TypeInput, "line %d: charge period must be exactly one day, got %s to %s",
			line.line, line.value("ChargePeriodStart"), line.value("ChargePeriodEnd"))
	}
	c.Date = start.Format(r.cfg.DateLayout())

	if i, ok := r.cfg.AmountIndex(config.AmortizedCost); ok {
		if c.Amounts[i], err = requiredFloat(line, "EffectiveCost"); err != nil {
			return nil, err
		}
	}
	if i, ok := r.cfg.AmountIndex(config.OnDemandCost); ok {
		if c.Amounts[i], err = requiredFloat(line, "ContractedCost"); err != nil {
			return nil, err
		}
	}
	c.Currency = line.value("BillingCurrency")

	if err := parseFocusTags(line.value("Tags"), c.Tags); err != nil {
		return nil, errors.Wrapf(errors.TypeParsing, err, "line %d: invalid Tags", line.line)
	}

	if line.value("CommitmentDiscountStatus") == "Unused" {
		unused := r.cfg.FocusUnusedCommitment
		c.Service = unused.Service
		c.Instance = unused.Instance
		for dimension, value := range unused.Dimensions {
			c.Dimensions[dimension] = value
		}
	} else {
		fillFromTags(&c.Record, r.cfg.TagKeys)
	}
	if c.Service == "" {
		c.Service = r.cfg.DefaultService
	}
	if c.Instance == "" {
		c.Instance = c.Service
	}
	return c, nil
}

func parseChargePeriod(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range chargePeriodLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func requiredFloat(line row, column string) (float64, error) {
	if strings.TrimSpace(line.value(column)) == "" {
		return 0, errors.Newf(errors.TypeParsing, "line %d: column %s is empty", line.line, column)
	}
	return line.float(column)
}

// parseFocusTags decodes the Tags JSON object; "null" and empty mean no tags.
// Keys and values are lowercased.
func parseFocusTags(s string, tags map[string]string) error {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return err
	}
	for k, v := range raw {
		var value string
		switch v := v.(type) {
		case nil:
		case string:
			value = v
		default:
			value = fmt.Sprint(v)
		}
		tags[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(value))
	}
	return nil
}
