package model

import (
	"encoding/json"
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

// Result is the outcome of one collector call: a value, or the reason the
// value could not be produced. Collectors never return a bare error.
type Result[T any] struct {
	Value  T
	Reason string
	ok     bool
}

func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v, ok: true}
}

func Failed[T any](reason string) Result[T] {
	return Result[T]{Reason: reason}
}

func (r Result[T]) OK() bool { return r.ok }

// Get returns the value and whether it is valid.
func (r Result[T]) Get() (T, bool) { return r.Value, r.ok }

func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.ok {
		return json.Marshal(struct {
			OK    bool `json:"ok"`
			Value T    `json:"value"`
		}{true, r.Value})
	}
	return json.Marshal(struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}{false, r.Reason})
}

func (r *Result[T]) UnmarshalJSON(data []byte) error {
	var raw struct {
		OK    bool            `json:"ok"`
		Value json.RawMessage `json:"value"`
		Error string          `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.OK {
		*r = Failed[T](raw.Error)
		return nil
	}
	var v T
	if len(raw.Value) > 0 {
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return err
		}
	}
	*r = Ok(v)
	return nil
}

// ChainSnapshot summarizes bitcoind.
type ChainSnapshot struct {
	SyncPercentage float64 `json:"sync_percentage"`
	BlockHeight    int64   `json:"current_block_height"`
	Chain          string  `json:"chain"`
	Pruned         bool    `json:"pruned"`
	Peers          int     `json:"number_of_peers"`
	Backend        string  `json:"bitcoind"`
	Version        int64   `json:"version"`
	Subversion     string  `json:"subversion"`
}

// NodeSnapshot summarizes the payment-channel daemon.
type NodeSnapshot struct {
	WalletBalance    btcutil.Amount `json:"wallet_balance"`
	ChannelBalance   btcutil.Amount `json:"channel_balance"`
	TotalBalance     btcutil.Amount `json:"total_balance"`
	Channels         int            `json:"number_of_channels"`
	Peers            int            `json:"number_of_peers"`
	Alias            string         `json:"node_alias"`
	Version          string         `json:"node_lnd_version"`
	PubKey           string         `json:"pub_key"`
	PendingChannels  int64          `json:"num_pending_channels"`
	ActiveChannels   int64          `json:"num_active_channels"`
	InactiveChannels int64          `json:"num_inactive_channels"`
	SyncedToChain    bool           `json:"synced_to_chain"`
	SyncedToGraph    bool           `json:"synced_to_graph"`
}

// DiskUsage is the summed usage of all partitions on one physical device.
type DiskUsage struct {
	Device  string  `json:"device"`
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
}

// CPUInfo identifies the processor.
type CPUInfo struct {
	ModelName string  `json:"model_name"`
	Vendor    string  `json:"vendor"`
	Cores     int     `json:"cores"`
	MHz       float64 `json:"mhz"`
}

// SensorReading is one temperature value reported by a sensor chip.
type SensorReading struct {
	Chip    string  `json:"chip"`
	Label   string  `json:"label"`
	Celsius float64 `json:"celsius"`
}

// Reachability is the node's public mapping as seen by STUN servers.
type Reachability struct {
	PublicAddr string `json:"public_addr"`
	NATType    string `json:"nat_type"`
}

// SystemSnapshot holds host metrics. Every field is optional; a nil pointer
// means the sub-metric could not be read.
type SystemSnapshot struct {
	CPUPercent    *float64        `json:"cpu_usage"`
	MemoryPercent *float64        `json:"memory_usage"`
	CPU           *CPUInfo        `json:"cpu_info"`
	CPUTemp       *SensorReading  `json:"cpu_temp"`
	Disks         []DiskUsage     `json:"physical_disks_usage"`
	Sensors       []SensorReading `json:"sensor_temperatures"`
	Reachability  *Reachability   `json:"reachability,omitempty"`
	// Problems lists sub-metrics that degraded to absent values.
	Problems []string `json:"problems,omitempty"`
}

// Fee tier names.
const (
	TierFastest  = "fastest"
	TierHalfHour = "halfHour"
	TierHour     = "hour"
	TierEconomy  = "economy"
	TierMinimum  = "minimum"
)

// FeeQuote is a set of sat/vB rates with their provenance.
type FeeQuote struct {
	Fastest   float64   `json:"fastest"`
	HalfHour  float64   `json:"halfHour"`
	Hour      float64   `json:"hour"`
	Economy   float64   `json:"economy"`
	Minimum   float64   `json:"minimum"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Tiers returns the quote as a tier-name map.
func (q FeeQuote) Tiers() map[string]float64 {
	return map[string]float64{
		TierFastest:  q.Fastest,
		TierHalfHour: q.HalfHour,
		TierHour:     q.Hour,
		TierEconomy:  q.Economy,
		TierMinimum:  q.Minimum,
	}
}

// PeerAggregate is the per-counterparty projection of forwarding activity.
type PeerAggregate struct {
	Alias        string `json:"alias"`
	FeesSat      int64  `json:"fees_sat"`
	AmountOutSat int64  `json:"amount_out_sat"`
	Events       int    `json:"events"`
}

// AggregationReport ranks counterparties by earned fees over a window.
type AggregationReport struct {
	WindowDays   int             `json:"window_days"`
	GeneratedAt  time.Time       `json:"generated_at"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	TotalEvents  int             `json:"total_events"`
	TotalFeesSat int64           `json:"total_fees_sat"`
	Top          []PeerAggregate `json:"top"`
	Low          []PeerAggregate `json:"low"`
}

// DailyFees is one row of the analytics store.
type DailyFees struct {
	Date             string `json:"date"`
	ForwardFeesSat   int64  `json:"forward_fees_sat"`
	RebalanceFeesSat int64  `json:"rebalance_fees_sat"`
	NetProfitSat     int64  `json:"net_profit_sat"`
}

// MonthlyFees sums DailyFees rows of one YYYY-MM month.
type MonthlyFees struct {
	Month            string `json:"month"`
	ForwardFeesSat   int64  `json:"forward_fees_sat"`
	RebalanceFeesSat int64  `json:"rebalance_fees_sat"`
	NetProfitSat     int64  `json:"net_profit_sat"`
}

// FeeTotals sums fee columns over a period.
type FeeTotals struct {
	ForwardFeesSat   int64 `json:"forward_fees_sat"`
	RebalanceFeesSat int64 `json:"rebalance_fees_sat"`
	NetProfitSat     int64 `json:"net_profit_sat"`
}

// ProfitSummary combines the three analytics queries.
type ProfitSummary struct {
	Latest     *DailyFees    `json:"latest"`
	Months     []MonthlyFees `json:"months"`
	Year       int           `json:"year"`
	YearToDate FeeTotals     `json:"year_to_date"`
}
