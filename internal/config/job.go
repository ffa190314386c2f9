package config

// job.go defines the per-feed configuration. Each equipment data source
// is described by one TOML file in the jobs directory; the file names the
// input spreadsheets, the field mapping, the enrichment store, and the
// output artifacts for that feed.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"edcfeed/internal/schema"
	"edcfeed/internal/sheet"
)

// Duration accepts human-readable durations ("10s", "1m30s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Trigger types for daemon mode.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerWatch    = "file_watch"
)

// JobConfig is one feed: a named equipment data source with its input,
// mapping, enrichment, and output settings.
type JobConfig struct {
	Job       JobSection       `toml:"job"`
	Input     InputSection     `toml:"input"`
	Fields    FieldsSection    `toml:"fields"`
	Cursor    CursorSection    `toml:"cursor"`
	Lookup    LookupSection    `toml:"lookup"`
	Secondary SecondarySection `toml:"secondary"`
	Resample  ResampleSection  `toml:"resample"`
	Transform TransformSection `toml:"transform"`
	Output    OutputSection    `toml:"output"`
	Trigger   TriggerSection   `toml:"trigger"`

	// Path is the TOML file this job was loaded from, kept for logs.
	Path string `toml:"-"`
}

// JobSection names the feed and the identity stamped on its artifacts.
type JobSection struct {
	// Name identifies the feed; it keys the cursor file and the run log.
	Name          string `toml:"name"`
	Operation     string `toml:"operation"`
	Site          string `toml:"site"`
	ProductFamily string `toml:"product_family"`
	TestStation   string `toml:"test_station"`
	Operator      string `toml:"operator"`
	Description   string `toml:"description"`
}

// InputSection locates the spreadsheets and the data range inside them.
type InputSection struct {
	// Paths are the directories to scan; Patterns are evaluated inside
	// each. Patterns without Paths are used as full glob patterns.
	Paths    []string `toml:"paths"`
	Patterns []string `toml:"patterns"`

	// Sheet is the data sheet name, or its base name when
	// SheetPickLatest selects the highest "(N)" clone.
	Sheet           string `toml:"sheet"`
	SheetPickLatest bool   `toml:"sheet_pick_latest"`

	// SkipRows drops leading non-data rows. HeaderLabels, when set,
	// locates the header row by content instead and overrides SkipRows.
	SkipRows      int      `toml:"skip_rows"`
	HeaderLabels  []string `toml:"header_labels"`
	HeaderMinHits int      `toml:"header_min_hits"`

	// Columns is a letter range like "A:U"; ColumnList is an explicit
	// zero-based index list. Configure at most one.
	Columns    string `toml:"columns"`
	ColumnList []int  `toml:"column_list"`

	// KeyColumn is the column (indexed after the subset) whose empty
	// cells mark structural padding rows. Default 0; -1 disables.
	KeyColumn int `toml:"key_column"`

	// RecentDays keeps only files whose name starts with a YYYYMMDD
	// date inside the last N days. Zero processes everything matched.
	RecentDays int `toml:"recent_days"`

	// NewestOnly reduces each discovery pass to the most recently
	// modified candidate, the way a per-shift feed expects.
	NewestOnly bool `toml:"newest_only"`

	// CopyToWorkdir reads a local copy instead of the original, which
	// the equipment software may still hold open.
	CopyToWorkdir bool `toml:"copy_to_workdir"`
}

// FieldsSection is the declarative field mapping.
type FieldsSection struct {
	// Specs are name:locator:type entries.
	Specs []string `toml:"specs"`
	// TimestampField names the field driving the date window and the
	// cursor. Empty disables date filtering.
	TimestampField string `toml:"timestamp_field"`
}

// CursorSection tunes the watermark behaviour.
type CursorSection struct {
	// LookbackDays bounds the first run of a source with no watermark
	// yet. Zero means the built-in default.
	LookbackDays int `toml:"lookback_days"`
}

// LookupSection configures the external enrichment store.
type LookupSection struct {
	Enabled bool   `toml:"enabled"`
	Driver  string `toml:"driver"`
	// DSN may reference environment variables as ${VAR}.
	DSN   string `toml:"dsn"`
	Query string `toml:"query"`
	// KeyField names the field holding the natural key; Attrs name the
	// output fields filled from the query's result columns, in order.
	KeyField     string   `toml:"key_field"`
	Attrs        []string `toml:"attrs"`
	Timeout      Duration `toml:"timeout"`
	Retries      int      `toml:"retries"`
	RetryBackoff Duration `toml:"retry_backoff"`
}

// SecondarySection describes the fixed-point coordinate sheet.
type SecondarySection struct {
	Sheet      string `toml:"sheet"`
	PickLatest bool   `toml:"pick_latest"`
	SkipRows   int    `toml:"skip_rows"`
	// PointCount broadcasts rows 1..N of the sheet onto every data row
	// as X/Y column pairs. Zero disables the merge; xy_ field locators
	// still read the sheet directly.
	PointCount int    `toml:"point_count"`
	XColumn    int    `toml:"x_col"`
	YColumn    int    `toml:"y_col"`
	XPrefix    string `toml:"x_prefix"`
	YPrefix    string `toml:"y_prefix"`
	// Required raises the log level when the sheet is missing. The
	// batch proceeds either way.
	Required bool `toml:"required"`
}

// ResampleSection reduces each group and time bucket to one row.
type ResampleSection struct {
	IntervalMinutes int    `toml:"interval_minutes"`
	GroupKey        string `toml:"group_key"`
	TieBreakField   string `toml:"tie_break_field"`
}

// TransformSection covers the value and shape rewrites.
type TransformSection struct {
	// Normalize applies named cell normalizers per field, in order.
	Normalize map[string][]string `toml:"normalize"`
	// ValueMap rewrites exact cell values per field.
	ValueMap map[string]map[string]string `toml:"value_map"`
	// Exclude drops rows whose field holds any of the listed values.
	Exclude map[string][]string `toml:"exclude"`

	// Serial settings assemble the serial number field from a source
	// field or the row timestamp.
	SerialField         string `toml:"serial_field"`
	SerialSource        string `toml:"serial_source"`
	SerialPrefix        string `toml:"serial_prefix"`
	SerialSuffix        string `toml:"serial_suffix"`
	SerialFromTimestamp bool   `toml:"serial_from_timestamp"`

	Rename      map[string]string `toml:"rename"`
	Constants   map[string]string `toml:"constants"`
	DropColumns []string          `toml:"drop_columns"`
}

// OutputSection names the artifacts and the fields feeding their
// metadata.
type OutputSection struct {
	Dir string `toml:"dir"`
	// CSVFile appends to one fixed artifact; CSVPrefix writes a
	// timestamped file per run. Configure at most one; the job name is
	// the default prefix.
	CSVFile   string `toml:"csv_file"`
	CSVPrefix string `toml:"csv_prefix"`

	// ColumnOrder fixes the emitted columns; empty keeps the pipeline
	// order.
	ColumnOrder []string `toml:"column_order"`
	// SortKeys appends the spreadsheet sort key columns.
	SortKeys bool `toml:"sort_keys"`

	// Formats name the registered sink writers, written in order.
	Formats []string `toml:"formats"`

	// Units annotate measurement columns in the record XML.
	Units map[string]string `toml:"units"`
	// MiscFields are echoed into the record XML header.
	MiscFields []string `toml:"misc_fields"`

	// Field names feeding the XML header attributes. TimeField defaults
	// to the timestamp field after renames.
	SerialField string `toml:"serial_field"`
	PartField   string `toml:"part_field"`
	LotField    string `toml:"lot_field"`
	TimeField   string `toml:"time_field"`
}

// TriggerSection controls how the daemon starts runs for this job.
type TriggerSection struct {
	// Type is manual, schedule, or file_watch.
	Type string `toml:"type"`
	// Cron is a six-field expression (with seconds) for schedule jobs.
	Cron string `toml:"cron"`
	// Debounce delays a watch-triggered run until the input directory
	// has been quiet this long. Zero uses the process default.
	Debounce Duration `toml:"debounce"`
}

// LoadJob reads and validates a single job file.
func LoadJob(path string) (*JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}

	job := &JobConfig{}
	job.Input.KeyColumn = 0
	if err := toml.Unmarshal(data, job); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	job.Path = path
	job.applyDefaults()

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return job, nil
}

// LoadJobs reads every *.toml in dir. A file that fails to parse or
// validate fails alone: it is reported in the returned problem map and
// the remaining jobs still load. Duplicate job names reject the later
// file.
func LoadJobs(dir string) ([]*JobConfig, map[string]error, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.toml"))
	if err != nil {
		return nil, nil, fmt.Errorf("scan jobs dir %s: %w", dir, err)
	}
	sort.Strings(paths)

	var jobs []*JobConfig
	problems := make(map[string]error)
	byName := make(map[string]string)

	for _, path := range paths {
		job, err := LoadJob(path)
		if err != nil {
			problems[path] = err
			continue
		}
		if prev, dup := byName[job.Job.Name]; dup {
			problems[path] = fmt.Errorf("duplicate job name %q (already defined in %s)",
				job.Job.Name, filepath.Base(prev))
			continue
		}
		byName[job.Job.Name] = path
		jobs = append(jobs, job)
	}
	return jobs, problems, nil
}

// FindJob loads the named job from dir. A nil job with a nil error
// means no file defines that name; when a file named after the job
// exists but failed to load, its load error comes back instead so the
// caller can say why the job is unusable.
func FindJob(dir, name string) (*JobConfig, error) {
	jobs, problems, err := LoadJobs(dir)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.Job.Name == name {
			return job, nil
		}
	}
	for path, perr := range problems {
		if strings.TrimSuffix(filepath.Base(path), ".toml") == name {
			return nil, perr
		}
	}
	return nil, nil
}

func (j *JobConfig) applyDefaults() {
	if j.Trigger.Type == "" {
		j.Trigger.Type = TriggerManual
	}
	if len(j.Output.Formats) == 0 {
		j.Output.Formats = []string{"csv"}
	}
	if j.Output.CSVFile == "" && j.Output.CSVPrefix == "" {
		j.Output.CSVPrefix = j.Job.Name
	}
	if j.Output.TimeField == "" && j.Fields.TimestampField != "" {
		j.Output.TimeField = j.renamed(j.Fields.TimestampField)
	}
}

// renamed maps a logical field name to its output name.
func (j *JobConfig) renamed(field string) string {
	if to, ok := j.Transform.Rename[field]; ok {
		return to
	}
	return field
}

// Validate checks the job configuration. Returns an error describing
// all problems found.
func (j *JobConfig) Validate() error {
	var errs []string

	if j.Job.Name == "" {
		errs = append(errs, "job.name is required")
	}
	if len(j.Input.Patterns) == 0 {
		errs = append(errs, "input.patterns must name at least one glob")
	}
	if j.Input.Sheet == "" {
		errs = append(errs, "input.sheet is required")
	}
	if j.Input.Columns != "" && len(j.Input.ColumnList) > 0 {
		errs = append(errs, "input.columns and input.column_list are mutually exclusive")
	}
	if j.Input.Columns != "" {
		if _, err := sheet.ParseColumnRange(j.Input.Columns); err != nil {
			errs = append(errs, fmt.Sprintf("input.columns: %v", err))
		}
	}
	if j.Input.RecentDays < 0 {
		errs = append(errs, "input.recent_days must be non-negative")
	}

	specs, err := schema.Parse(j.Fields.Specs)
	if err != nil {
		errs = append(errs, "fields.specs parsed to zero usable entries")
	} else {
		if j.Fields.TimestampField != "" {
			if _, ok := specs.ByName(j.Fields.TimestampField); !ok {
				errs = append(errs, fmt.Sprintf(
					"fields.timestamp_field %q is not a declared field", j.Fields.TimestampField))
			}
		}
		if specs.HasSecondary() && j.Secondary.Sheet == "" {
			errs = append(errs, "secondary.sheet is required by xy_ field locators")
		}
	}

	if j.Cursor.LookbackDays < 0 {
		errs = append(errs, "cursor.lookback_days must be non-negative")
	}

	if j.Lookup.Enabled {
		if j.Lookup.Driver == "" {
			errs = append(errs, "lookup.driver is required when lookup is enabled")
		}
		if j.Lookup.DSN == "" {
			errs = append(errs, "lookup.dsn is required when lookup is enabled")
		}
		if j.Lookup.Query == "" {
			errs = append(errs, "lookup.query is required when lookup is enabled")
		}
		if j.Lookup.KeyField == "" {
			errs = append(errs, "lookup.key_field is required when lookup is enabled")
		}
		if len(j.Lookup.Attrs) == 0 {
			errs = append(errs, "lookup.attrs must name at least one output field")
		}
	}

	if j.Secondary.PointCount > 0 && j.Secondary.Sheet == "" {
		errs = append(errs, "secondary.sheet is required when point_count is set")
	}
	if j.Secondary.PointCount < 0 {
		errs = append(errs, "secondary.point_count must be non-negative")
	}

	if j.Resample.IntervalMinutes < 0 {
		errs = append(errs, "resample.interval_minutes must be non-negative")
	}
	if j.Resample.IntervalMinutes > 0 && j.Resample.GroupKey == "" {
		errs = append(errs, "resample.group_key is required when resampling is enabled")
	}

	for field, chain := range j.Transform.Normalize {
		if _, err := schema.Chain(chain); err != nil {
			errs = append(errs, fmt.Sprintf("transform.normalize.%s: %v", field, err))
		}
	}

	if j.Output.Dir == "" {
		errs = append(errs, "output.dir is required")
	}
	if j.Output.CSVFile != "" && j.Output.CSVPrefix != "" {
		errs = append(errs, "output.csv_file and output.csv_prefix are mutually exclusive")
	}

	switch j.Trigger.Type {
	case TriggerManual, TriggerWatch:
	case TriggerSchedule:
		if j.Trigger.Cron == "" {
			errs = append(errs, "trigger.cron is required for schedule jobs")
		}
	default:
		errs = append(errs, fmt.Sprintf("trigger.type %q must be one of: manual, schedule, file_watch",
			j.Trigger.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid job config:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// FieldSpecs parses the declared field list.
func (j *JobConfig) FieldSpecs() (schema.FieldSpecs, error) {
	return schema.Parse(j.Fields.Specs)
}

// ColumnIndexes resolves the configured column subset to zero-based
// indices, or nil when every column is kept.
func (j *JobConfig) ColumnIndexes() ([]int, error) {
	if len(j.Input.ColumnList) > 0 {
		return j.Input.ColumnList, nil
	}
	return sheet.ParseColumnRange(j.Input.Columns)
}

// GlobPatterns expands paths x patterns into full glob patterns.
func (j *JobConfig) GlobPatterns() []string {
	if len(j.Input.Paths) == 0 {
		return j.Input.Patterns
	}
	out := make([]string, 0, len(j.Input.Paths)*len(j.Input.Patterns))
	for _, dir := range j.Input.Paths {
		for _, pattern := range j.Input.Patterns {
			out = append(out, filepath.Join(dir, pattern))
		}
	}
	return out
}

// ExpandedDSN returns the lookup DSN with ${VAR} references resolved
// from the environment, so credentials stay out of job files.
func (j *JobConfig) ExpandedDSN() string {
	return os.ExpandEnv(j.Lookup.DSN)
}
