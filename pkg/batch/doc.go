/*
Package batch tunes the transaction batch size from observed throughput and
latency.

Optimize records a Sample and, outside the cooldown, estimates the next
size as an ensemble of three predictors: a linear regression of throughput
against batch size, a ratio of target to observed performance and a local
gradient. The change per step is capped at RampUpMaxChange for the first
RampUpCycles optimizations and at SteadyMaxChange afterwards, and the
result is always kept within [MinBatch, MaxBatch].

UpdateNetworkConditions and UpdateNodePerformance shrink the current size
when the network is anomalous or the node is saturated.

Split breaks oversized batches into chunks of the optimal size.
*/
package batch
