// Package ordering ranks pending transactions for execution.
//
// A transaction's score is the Active ordering weights applied to five
// normalized features: size, sender hotness, fee, age and dependency
// count. Age ramps to full priority over the fairness window so no
// transaction starves. Every LearningInterval batches the engine nudges
// weight from size toward hotness when throughput improved.
package ordering
