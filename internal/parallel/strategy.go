package parallel

// Strategy selects how the parallelizer dispatches a drained, merged batch
// across its sinker pool (spec.md §4.5).
type Strategy uint8

const (
	StrategySerial Strategy = iota
	StrategySnapshot
	StrategyRdbPartition
	StrategyRdbMerge
	StrategyRdbCheck
)

func ParseStrategy(s string) (Strategy, bool) {
	switch s {
	case "serial":
		return StrategySerial, true
	case "snapshot":
		return StrategySnapshot, true
	case "rdb_partition":
		return StrategyRdbPartition, true
	case "rdb_merge":
		return StrategyRdbMerge, true
	case "rdb_check":
		return StrategyRdbCheck, true
	default:
		return 0, false
	}
}

func (s Strategy) String() string {
	switch s {
	case StrategySerial:
		return "serial"
	case StrategySnapshot:
		return "snapshot"
	case StrategyRdbPartition:
		return "rdb_partition"
	case StrategyRdbMerge:
		return "rdb_merge"
	case StrategyRdbCheck:
		return "rdb_check"
	default:
		return "unknown"
	}
}
