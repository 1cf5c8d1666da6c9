// Package selector implements component H, spec.md §4.8: a pure function from
// (workload class, device class) to a recommended (policy, build config, rationale).
// The table never touches a live cache; it only informs how one is constructed.
//
// Grounded on original_source/optimized/libcache/DeviceAwarePolicy.hpp's decision matrix
// (the same six YCSB-style workload rows, the same three device columns this module's
// backends actually implement, and the same rationale strings per SPEC_FULL.md §12 item
// 4), translated from a string-keyed unordered_map into a Go map keyed on a small value
// struct, and from an enum-parsing free function pair into Workload/Device String/Parse
// methods in the idiom of aistore's cmn.Bck-style small value types.
package selector

import (
	"fmt"
	"strings"
)

// Workload is one of the six YCSB-style mixes named in spec.md §4.8.
type Workload string

const (
	YCSBUpdateHeavy     Workload = "ycsb_a" // 50% reads, 50% updates
	YCSBReadMostly      Workload = "ycsb_b" // 95% reads, 5% updates
	YCSBReadOnly        Workload = "ycsb_c" // 100% reads
	YCSBReadLatest      Workload = "ycsb_d" // 95% reads, 5% inserts, temporal locality
	YCSBScanHeavy       Workload = "ycsb_e" // 95% scans, 5% inserts
	YCSBReadModifyWrite Workload = "ycsb_f" // 50% reads, 50% read-modify-write
)

// ParseWorkload accepts "ycsb_a".."ycsb_f", "ycsb-a".."ycsb-f", or bare "a".."f", case
// insensitively, mirroring DeviceAwarePolicy::parseWorkload's tolerance for both
// underscore and hyphen spellings.
func ParseWorkload(s string) (Workload, error) {
	switch strings.ToLower(s) {
	case "ycsb_a", "ycsb-a", "a":
		return YCSBUpdateHeavy, nil
	case "ycsb_b", "ycsb-b", "b":
		return YCSBReadMostly, nil
	case "ycsb_c", "ycsb-c", "c":
		return YCSBReadOnly, nil
	case "ycsb_d", "ycsb-d", "d":
		return YCSBReadLatest, nil
	case "ycsb_e", "ycsb-e", "e":
		return YCSBScanHeavy, nil
	case "ycsb_f", "ycsb-f", "f":
		return YCSBReadModifyWrite, nil
	default:
		return "", fmt.Errorf("selector: unrecognized workload %q", s)
	}
}

// String renders the display form used in CLI output, e.g. "YCSB-A".
func (w Workload) String() string {
	return strings.ToUpper(strings.Replace(string(w), "_", "-", 1))
}

// Device is one of the three backing-store classes spec.md §2/§4.3 names.
type Device string

const (
	DeviceVolatile Device = "volatile"
	DevicePMem     Device = "pmem"
	DeviceFile     Device = "file"
)

// ParseDevice accepts "volatile", "pmem", or "file", case insensitively.
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(s) {
	case "volatile":
		return DeviceVolatile, nil
	case "pmem":
		return DevicePMem, nil
	case "file":
		return DeviceFile, nil
	default:
		return "", fmt.Errorf("selector: unrecognized storage device %q", s)
	}
}

func (d Device) String() string { return string(d) }

// PolicyName is one of the three replacement policies this module implements.
type PolicyName string

const (
	PolicyLRU   PolicyName = "LRU"
	PolicyCLOCK PolicyName = "CLOCK"
	PolicyA2Q   PolicyName = "A2Q"
)

// Recommendation is one decision-table entry. BuildConfig is a descriptive label (not a
// compile-time flag in this module, which selects policies at construction per spec.md's
// "express this as a trait/interface ... pick the implementation at construction, not via
// compile-time flags" redesign note); the derived booleans below are parsed back out of
// it the same way DeviceAwarePolicy::PolicyConfig::deriveFlagsFromConfig does, so a config
// name stays the single source of truth for both the human-readable label and the
// machine-checkable flags.
type Recommendation struct {
	Workload    Workload   `json:"workload" yaml:"workload"`
	Device      Device     `json:"device" yaml:"device"`
	Policy      PolicyName `json:"policy" yaml:"policy"`
	BuildConfig string     `json:"build_config" yaml:"build_config"`
	Rationale   string     `json:"rationale" yaml:"rationale"`

	EnableConcurrent       bool `json:"enable_concurrent" yaml:"enable_concurrent"`
	EnableSelectiveUpdate  bool `json:"enable_selective_update" yaml:"enable_selective_update"`
	EnableUpdateInOrder    bool `json:"enable_update_in_order" yaml:"enable_update_in_order"`
	EnableManageGhostQueue bool `json:"enable_manage_ghost_queue" yaml:"enable_manage_ghost_queue"`
}

func newRecommendation(w Workload, d Device, policy PolicyName, buildConfig, rationale string) Recommendation {
	r := Recommendation{
		Workload:    w,
		Device:      d,
		Policy:      policy,
		BuildConfig: buildConfig,
		Rationale:   rationale,
	}
	r.EnableConcurrent = strings.Contains(buildConfig, "concurrent") && !strings.Contains(buildConfig, "non_concurrent")
	r.EnableSelectiveUpdate = strings.Contains(buildConfig, "relaxed")
	r.EnableUpdateInOrder = strings.Contains(buildConfig, "update_in_order")
	r.EnableManageGhostQueue = strings.Contains(buildConfig, "ghost_q_enabled")
	return r
}

type tableKey struct {
	w Workload
	d Device
}

// table is the decision matrix itself, one entry per (workload, device) pair named in
// spec.md §4.8's six-by-three grid, transcribed from DeviceAwarePolicy's
// initializeDecisionMatrix in row order.
var table = map[tableKey]Recommendation{
	{YCSBUpdateHeavy, DeviceVolatile}: newRecommendation(YCSBUpdateHeavy, DeviceVolatile, PolicyCLOCK,
		"non_concurrent_relaxed",
		"CLOCK with relaxed updates: optimal for update-heavy workload on DRAM"),
	{YCSBUpdateHeavy, DevicePMem}: newRecommendation(YCSBUpdateHeavy, DevicePMem, PolicyA2Q,
		"non_concurrent_a2q_ghost_q_enabled",
		"A2Q with ghost queue: ensures consistency for persistent memory"),
	{YCSBUpdateHeavy, DeviceFile}: newRecommendation(YCSBUpdateHeavy, DeviceFile, PolicyA2Q,
		"non_concurrent_a2q_ghost_q_enabled",
		"A2Q with ghost queue: adaptive for update-heavy I/O-bound workload"),

	{YCSBReadMostly, DeviceVolatile}: newRecommendation(YCSBReadMostly, DeviceVolatile, PolicyLRU,
		"non_concurrent_lru_metadata_update_in_order",
		"LRU with ordered updates: efficient for read-mostly workload"),
	{YCSBReadMostly, DevicePMem}: newRecommendation(YCSBReadMostly, DevicePMem, PolicyA2Q,
		"non_concurrent_relaxed",
		"A2Q with relaxed: multi-queue structure benefits read-heavy persistent workload"),
	{YCSBReadMostly, DeviceFile}: newRecommendation(YCSBReadMostly, DeviceFile, PolicyA2Q,
		"non_concurrent_relaxed",
		"A2Q with relaxed: maximize hit rate to minimize expensive disk I/O"),

	{YCSBReadOnly, DeviceVolatile}: newRecommendation(YCSBReadOnly, DeviceVolatile, PolicyA2Q,
		"non_concurrent_relaxed",
		"A2Q with relaxed: optimal for read-only workload, skip unnecessary metadata updates"),
	{YCSBReadOnly, DevicePMem}: newRecommendation(YCSBReadOnly, DevicePMem, PolicyCLOCK,
		"non_concurrent_relaxed",
		"CLOCK with relaxed: simple and efficient for read-only persistent workload"),
	{YCSBReadOnly, DeviceFile}: newRecommendation(YCSBReadOnly, DeviceFile, PolicyLRU,
		"non_concurrent_lru_metadata_update_in_order",
		"LRU with ordered updates: maximize hit rate for read-only disk workload"),

	{YCSBReadLatest, DeviceVolatile}: newRecommendation(YCSBReadLatest, DeviceVolatile, PolicyA2Q,
		"non_concurrent_relaxed",
		"A2Q with relaxed: ideal for temporal locality in read-latest workload"),
	{YCSBReadLatest, DevicePMem}: newRecommendation(YCSBReadLatest, DevicePMem, PolicyCLOCK,
		"non_concurrent_default",
		"CLOCK: temporal locality + persistence guarantees"),
	{YCSBReadLatest, DeviceFile}: newRecommendation(YCSBReadLatest, DeviceFile, PolicyA2Q,
		"non_concurrent_relaxed",
		"A2Q with relaxed: temporal locality minimizes disk access"),

	{YCSBScanHeavy, DeviceVolatile}: newRecommendation(YCSBScanHeavy, DeviceVolatile, PolicyLRU,
		"non_concurrent_lru_metadata_update_in_order",
		"LRU with ordered updates: efficient for scan-heavy patterns"),
	{YCSBScanHeavy, DevicePMem}: newRecommendation(YCSBScanHeavy, DevicePMem, PolicyCLOCK,
		"non_concurrent_default",
		"CLOCK: ensures scan consistency on persistent memory"),
	{YCSBScanHeavy, DeviceFile}: newRecommendation(YCSBScanHeavy, DeviceFile, PolicyLRU,
		"non_concurrent_lru_metadata_update_in_order_and_relaxed",
		"LRU with ordered updates and relaxed: balanced performance for scans on disk"),

	{YCSBReadModifyWrite, DeviceVolatile}: newRecommendation(YCSBReadModifyWrite, DeviceVolatile, PolicyCLOCK,
		"non_concurrent_default",
		"CLOCK: efficient for read-modify-write patterns"),
	{YCSBReadModifyWrite, DevicePMem}: newRecommendation(YCSBReadModifyWrite, DevicePMem, PolicyCLOCK,
		"non_concurrent_relaxed",
		"CLOCK with relaxed: ensures RMW consistency on persistent memory"),
	{YCSBReadModifyWrite, DeviceFile}: newRecommendation(YCSBReadModifyWrite, DeviceFile, PolicyA2Q,
		"non_concurrent_relaxed",
		"A2Q with relaxed: balanced performance for RMW on disk"),
}

// Select returns the recommendation for (workload, device). Both are expected to come
// from ParseWorkload/ParseDevice, so an unmatched combination only arises if the table
// itself is incomplete; the fallback mirrors DeviceAwarePolicy::selectPolicy's behavior
// rather than panicking, since this is advisory output, not a correctness-critical path.
func Select(w Workload, d Device) Recommendation {
	if r, ok := table[tableKey{w, d}]; ok {
		return r
	}
	return newRecommendation(w, d, PolicyLRU, "non_concurrent_default",
		"default fallback: LRU for an unrecognized workload/device combination")
}

// AllWorkloads and AllDevices list the table's rows/columns in spec.md's stated order,
// for --print-matrix to walk deterministically.
var AllWorkloads = []Workload{YCSBUpdateHeavy, YCSBReadMostly, YCSBReadOnly, YCSBReadLatest, YCSBScanHeavy, YCSBReadModifyWrite}
var AllDevices = []Device{DeviceVolatile, DevicePMem, DeviceFile}

// Matrix returns every recommendation in table order, for JSON/YAML dumps and
// --print-matrix.
func Matrix() []Recommendation {
	out := make([]Recommendation, 0, len(AllWorkloads)*len(AllDevices))
	for _, w := range AllWorkloads {
		for _, d := range AllDevices {
			out = append(out, Select(w, d))
		}
	}
	return out
}
