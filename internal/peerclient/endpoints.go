package peerclient

import (
	"fmt"
	"net/url"
	"strconv"
)

// Endpoints centralizes the query-string action names consumed from peers
// (spec.md §6) so every caller builds URLs the same way.

func explorerAction(base, action string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("action", action)
	return base + "/api/explorer/index.php?" + params.Encode()
}

// TipHashesURL builds the get_tip_hashes probe URL (spec.md §4.C point 3).
func TipHashesURL(base string, offset, count int) string {
	v := url.Values{}
	v.Set("offset", strconv.Itoa(offset))
	v.Set("count", strconv.Itoa(count))
	return explorerAction(base, "get_tip_hashes", v)
}

// NetworkStatsURL builds the get_network_stats fallback probe URL.
func NetworkStatsURL(base string) string {
	return explorerAction(base, "get_network_stats", nil)
}

// NetworkConfigURL builds the get_network_config fallback probe URL.
func NetworkConfigURL(base string) string {
	return explorerAction(base, "get_network_config", nil)
}

// BlockURL builds the single-block fetch URL.
func BlockURL(base string, height uint64) string {
	v := url.Values{}
	v.Set("block_id", strconv.FormatUint(height, 10))
	return explorerAction(base, "get_block", v)
}

// BlocksRangeURL builds the batched range fetch URL (<=500 blocks).
func BlocksRangeURL(base string, start, end uint64) string {
	v := url.Values{}
	v.Set("start", strconv.FormatUint(start, 10))
	v.Set("end", strconv.FormatUint(end, 10))
	return explorerAction(base, "get_blocks_range", v)
}

// AllBlocksURL builds the last-resort paginated block fetch URL.
func AllBlocksURL(base string, page, limit int) string {
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	return explorerAction(base, "get_all_blocks", v)
}

// BlockHashesRangeURL builds the quorum cross-check URL.
func BlockHashesRangeURL(base string, start, end uint64) string {
	v := url.Values{}
	v.Set("start", strconv.FormatUint(start, 10))
	v.Set("end", strconv.FormatUint(end, 10))
	return explorerAction(base, "get_block_hashes_range", v)
}

// NodesListURL builds the peer directory fetch URL.
func NodesListURL(base string) string { return explorerAction(base, "get_nodes_list", nil) }

// ValidatorsListURL builds the validator directory fetch URL.
func ValidatorsListURL(base string) string { return explorerAction(base, "get_validators_list", nil) }

// AllTransactionsURL builds the paginated transaction fetch URL.
func AllTransactionsURL(base string, page, limit int) string {
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	return explorerAction(base, "get_all_transactions", v)
}

// LegacyTransactionsURL builds the legacy top-level-array transactions URL.
func LegacyTransactionsURL(base string, page, limit int) string {
	return fmt.Sprintf("%s/api/explorer/transactions?page=%d&limit=%d", base, page, limit)
}

// WalletsURL builds the wallet directory fetch URL.
func WalletsURL(base string) string { return explorerAction(base, "get_wallets", nil) }

// SmartContractsURL builds the contract directory fetch URL.
func SmartContractsURL(base string) string { return explorerAction(base, "get_smart_contracts", nil) }

// StakingRecordsURL builds the staking directory fetch URL.
func StakingRecordsURL(base string) string { return explorerAction(base, "get_staking_records", nil) }

// MempoolURL builds the mempool pull fetch URL.
func MempoolURL(base string) string { return explorerAction(base, "get_mempool", nil) }

// ExportTransactionsURL builds the exact-replication export URL.
func ExportTransactionsURL(base string) string {
	return base + "/sync_web.php?action=export_transactions"
}

// SyncNewBlockURL builds the primary broadcast POST URL.
func SyncNewBlockURL(base string) string {
	return base + "/network_sync.php?action=sync_new_block"
}

// SyncBlockAliasURL builds the compatibility alias broadcast POST URL.
func SyncBlockAliasURL(base string) string {
	return base + "/network_sync.php?action=block"
}
