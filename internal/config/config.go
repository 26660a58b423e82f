// Package config loads the experiment config JSON and the montage and
// bipolar CSV files described in spec.md §6, using viper for the JSON
// document (the same config-loading approach the reference corpus's own
// instrument-control systems use) and encoding/csv for the tabular
// electrode files.
package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/elemem-bci/elemem/internal/domain"
)

// StimChannelConfig is one entry of the experiment config's
// `stim_channels` array, prior to default-filling and unit conversion.
type StimChannelConfig struct {
	Electrodes       string   `mapstructure:"electrodes"`
	AmplitudeRangeMA [2]float64 `mapstructure:"amplitude_range_mA"`
	FrequencyRangeHz [2]float64 `mapstructure:"frequency_range_Hz"`
	DurationRangeMs  [2]float64 `mapstructure:"duration_range_ms"`
	AmplitudeMA      *float64 `mapstructure:"amplitude_mA"`
	FrequencyHz      *float64 `mapstructure:"frequency_Hz"`
	DurationMs       *float64 `mapstructure:"duration_ms"`
	BurstFraction    *float64 `mapstructure:"burst_fraction"`
	BurstSlowFreqHz  *float64 `mapstructure:"burst_slow_freq_Hz"`
	StimTag          string   `mapstructure:"stimtag"`
}

// ExperimentSpecs is the experiment config's `experiment_specs` object.
type ExperimentSpecs struct {
	NumStimTrials     int        `mapstructure:"num_stim_trials"`
	NumShamTrials     int        `mapstructure:"num_sham_trials"`
	IntertrialRangeMs [2]float64 `mapstructure:"intertrial_range_ms"`
	ShamDurationMs    float64    `mapstructure:"sham_duration_ms"`
}

// Config is the typed form of the experiment config JSON (spec.md §6).
type Config struct {
	ElectrodeConfigFile        string              `mapstructure:"electrode_config_file"`
	BipolarElectrodeConfigFile string              `mapstructure:"bipolar_electrode_config_file"`
	StimChannels               []StimChannelConfig `mapstructure:"stim_channels"`
	ExperimentSpecs            ExperimentSpecs     `mapstructure:"experiment_specs"`
}

// Load reads and decodes the experiment config at path using viper,
// bound against the JSON schema of spec.md §6. Missing or malformed
// input is reported as a *domain.Error of kind KindFormat, per the
// error taxonomy's "File/Format: fatal to session start" rule.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, domain.NewFormatErrorf("config", "reading %s: %v", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, domain.NewFormatErrorf("config", "decoding %s: %v", path, err)
	}

	if cfg.ElectrodeConfigFile == "" {
		return nil, domain.NewFormatError("config", "electrode_config_file is required")
	}

	return &cfg, nil
}

// ResolvedStimChannel is a StimChannelConfig after electrode-pair parsing
// and amplitude/frequency/duration default-filling (spec.md §6: "amplitude
// → min, frequency → max, duration → min" when the concrete value is
// absent).
type ResolvedStimChannel struct {
	Pos, Neg        uint8
	AmplitudeMA     float64
	FrequencyHz     float64
	DurationMs      float64
	BurstFraction   float64
	BurstSlowFreqHz float64
	StimTag         string
	Limits          domain.SiteLimits
}

// Resolve parses the electrode pair and fills in defaults for one
// StimChannelConfig, given a label→channel_number lookup built from the
// montage CSV.
func (c StimChannelConfig) Resolve(montage map[string]uint8) (ResolvedStimChannel, error) {
	pos, neg, err := parseElectrodes(c.Electrodes, montage)
	if err != nil {
		return ResolvedStimChannel{}, err
	}

	out := ResolvedStimChannel{
		Pos:     pos,
		Neg:     neg,
		StimTag: c.StimTag,
	}

	if c.AmplitudeMA != nil {
		out.AmplitudeMA = *c.AmplitudeMA
	} else {
		out.AmplitudeMA = c.AmplitudeRangeMA[0]
	}
	if c.FrequencyHz != nil {
		out.FrequencyHz = *c.FrequencyHz
	} else {
		out.FrequencyHz = c.FrequencyRangeHz[1]
	}
	if c.DurationMs != nil {
		out.DurationMs = *c.DurationMs
	} else {
		out.DurationMs = c.DurationRangeMs[0]
	}

	out.BurstFraction = 1
	if c.BurstFraction != nil {
		out.BurstFraction = *c.BurstFraction
	}
	if c.BurstSlowFreqHz != nil {
		out.BurstSlowFreqHz = *c.BurstSlowFreqHz
	}

	out.Limits = domain.SiteLimits{
		MaxAmplitudeUA: uint16(c.AmplitudeRangeMA[1] * 10 * 100),
		MinFrequencyHz: uint32(c.FrequencyRangeHz[0]),
		MaxFrequencyHz: uint32(c.FrequencyRangeHz[1]),
		MinDurationUs:  uint32(c.DurationRangeMs[0] * 1000),
		MaxDurationUs:  uint32(c.DurationRangeMs[1] * 1000),
	}

	return out, nil
}

// parseElectrodes accepts the string form "POS_NEG", where each side is a
// montage label (e.g. "LA1_LA2") or a decimal channel index (e.g. "3_4").
// Electrodes is a string field, so a JSON array such as [3,4] is not
// decoded into it and is not accepted.
func parseElectrodes(spec string, montage map[string]uint8) (pos, neg uint8, err error) {
	parts := strings.SplitN(spec, "_", 2)
	if len(parts) != 2 {
		return 0, 0, domain.NewFormatErrorf("config", "malformed electrodes %q", spec)
	}
	pos, err = resolveElectrode(parts[0], montage)
	if err != nil {
		return 0, 0, err
	}
	neg, err = resolveElectrode(parts[1], montage)
	if err != nil {
		return 0, 0, err
	}
	return pos, neg, nil
}

func resolveElectrode(tok string, montage map[string]uint8) (uint8, error) {
	if n, err := strconv.Atoi(tok); err == nil {
		return uint8(n), nil
	}
	ch, ok := montage[tok]
	if !ok {
		return 0, domain.NewFormatErrorf("config", "unknown electrode label %q", tok)
	}
	return ch, nil
}

// MontageEntry is one row of the montage CSV (spec.md §6).
type MontageEntry struct {
	Label         string
	ChannelNumber uint8
	AreaMM2       float64
}

// LoadMontage reads a montage CSV: label, channel_number, area_mm2.
func LoadMontage(path string) ([]MontageEntry, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	entries := make([]MontageEntry, 0, len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			return nil, domain.NewFormatErrorf("config", "montage %s line %d: expected >=3 columns, got %d", path, i+1, len(row))
		}
		ch, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil || ch < 0 || ch > 255 {
			return nil, domain.NewFormatErrorf("config", "montage %s line %d: invalid channel_number %q", path, i+1, row[1])
		}
		area, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			return nil, domain.NewFormatErrorf("config", "montage %s line %d: invalid area_mm2 %q", path, i+1, row[2])
		}
		entries = append(entries, MontageEntry{
			Label:         strings.TrimSpace(row[0]),
			ChannelNumber: uint8(ch),
			AreaMM2:       area,
		})
	}
	return entries, nil
}

// LabelIndex builds a label→channel_number lookup from a montage.
func LabelIndex(entries []MontageEntry) map[string]uint8 {
	idx := make(map[string]uint8, len(entries))
	for _, e := range entries {
		idx[e.Label] = e.ChannelNumber
	}
	return idx
}

// BipolarEntry is one row of the bipolar CSV (spec.md §6): label, pos, neg.
type BipolarEntry struct {
	Label string
	Pair  domain.BipolarPair
}

// LoadBipolar reads a bipolar CSV and resolves pos/neg against montage,
// without validating uniqueness against any stim-channel list (spec.md
// §9 open question, resolved: non-validating load; enforcement lives
// solely in internal/stim's profile validator).
func LoadBipolar(path string, montage map[string]uint8) ([]BipolarEntry, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	entries := make([]BipolarEntry, 0, len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			return nil, domain.NewFormatErrorf("config", "bipolar %s line %d: expected >=3 columns, got %d", path, i+1, len(row))
		}
		pos, err := resolveElectrode(strings.TrimSpace(row[1]), montage)
		if err != nil {
			return nil, err
		}
		neg, err := resolveElectrode(strings.TrimSpace(row[2]), montage)
		if err != nil {
			return nil, err
		}
		pair := domain.BipolarPair{Pos: pos, Neg: neg}
		if err := pair.Validate(); err != nil {
			return nil, err
		}
		entries = append(entries, BipolarEntry{Label: strings.TrimSpace(row[0]), Pair: pair})
	}
	return entries, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewFormatErrorf("config", "opening %s: %v", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, domain.NewFormatErrorf("config", "parsing %s: %v", path, err)
		}
		if len(row) == 0 {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// String implements fmt.Stringer with a one-line summary of the resolved
// channel's electrodes, stimulation values and tag.
func (r ResolvedStimChannel) String() string {
	return fmt.Sprintf("stim(%d-%d amp=%.2fmA freq=%.1fHz dur=%.1fms tag=%s)",
		r.Pos, r.Neg, r.AmplitudeMA, r.FrequencyHz, r.DurationMs, r.StimTag)
}
