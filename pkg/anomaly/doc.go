/*
Package anomaly scores transactions and performance samples against
rolling baselines.

CheckTransaction combines three detectors and reports the highest scoring
one:

  - size: z-score of the transaction size against the size window
  - frequency: the sender's rate relative to the average sender
  - value: large transfers from addresses first seen within NewAddressAge

CheckPerformance scores throughput drops and latency spikes the same way.
A Report is anomalous when its score exceeds Sensitivity. Until a window
holds MinSamples values its z-score detectors score zero.

Sender tracking is bounded by MaxTrackedAddresses. When the table is full,
senders idle for longer than NewAddressAge are forgotten, and the whole
table is reset if that frees nothing.
*/
package anomaly
