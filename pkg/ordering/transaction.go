package ordering

import (
	"math"
	"time"

	"github.com/cuemby/cadence/pkg/stats"
)

// TxType classifies a transaction for complexity estimation.
type TxType int

const (
	TypeTransfer TxType = iota
	TypeContractDeploy
	TypeContractInvoke
	TypeTokenization
)

func (t TxType) String() string {
	switch t {
	case TypeContractDeploy:
		return "contract_deploy"
	case TypeContractInvoke:
		return "contract_invoke"
	case TypeTokenization:
		return "tokenization"
	default:
		return "transfer"
	}
}

func (t TxType) complexityBonus() int {
	switch t {
	case TypeContractDeploy:
		return 10
	case TypeContractInvoke:
		return 5
	case TypeTokenization:
		return 3
	default:
		return 1
	}
}

// Transaction is the metadata the engine needs to rank a pending
// transaction.
type Transaction struct {
	ID     string
	Sender string
	// Size is the encoded size in bytes.
	Size         int
	FeePrice     float64
	GasLimit     uint64
	Type         TxType
	Dependencies []string
	Timestamp    time.Time
}

// Features is the normalized feature set of a transaction. Size, Fee,
// Dependency, Complexity and ExecutionTime depend only on the transaction
// and are cached; Hotness and Age are recomputed on every call.
type Features struct {
	Size       float64
	Hotness    float64
	Fee        float64
	Age        float64
	Dependency float64

	Complexity    int
	ExecutionTime time.Duration
}

// Vector returns the features in FeatureNames order.
func (f Features) Vector() []float64 {
	return []float64{f.Size, f.Hotness, f.Fee, f.Age, f.Dependency}
}

// Scored is a transaction with its score.
type Scored struct {
	Transaction
	Score    float64
	Features Features
}

// Complexity estimates execution complexity in [1,100].
func Complexity(tx Transaction) int {
	c := 1
	if tx.Size > 0 {
		c += tx.Size / 32
	}
	c += int(min(tx.GasLimit/100000, 100))
	c += tx.Type.complexityBonus()
	return max(1, min(c, 100))
}

// ExecutionTime estimates how long tx takes to execute.
func ExecutionTime(tx Transaction) time.Duration {
	ms := 1.0 + 0.1*float64(Complexity(tx)) + float64(tx.GasLimit)/1e6
	return time.Duration(ms * float64(time.Millisecond))
}

func (e *Engine) staticFeatures(tx Transaction) Features {
	fee := tx.FeePrice
	if math.IsNaN(fee) || math.IsInf(fee, 0) {
		fee = 0
	}
	return Features{
		Size:          stats.Clamp(1-float64(tx.Size)/e.cfg.SizeScale, 0, 1),
		Fee:           math.Min(1, math.Log10(math.Max(1, fee))/e.cfg.FeeDecades),
		Dependency:    stats.Clamp(1-float64(len(tx.Dependencies))/e.cfg.MaxDependencies, 0, 1),
		Complexity:    Complexity(tx),
		ExecutionTime: ExecutionTime(tx),
	}
}
