// Package audio moves audio between independently clocked callbacks.
//
// A Resampler converts one channel between two sample rates with a 128×
// polyphase filter bank and linear interpolation between neighbouring
// phases. Its ratio carries a drift multiplier so the conversion can follow
// a clock that is not frequency-locked to the nominal rate.
//
// A Bridge joins the audio graph to a device or network stream. Each
// channel gets a lock-free single-producer single-consumer RingBuffer and a
// Resampler. The consumer side samples ring occupancy, a DriftEstimator turns
// the slope of that occupancy into a parts-per-million error, and the
// integrated error feeds back into the resampler ratio:
//
//	backend ──Push──▶ ring ──Pull──▶ resampler ──▶ graph      (Input)
//	graph ──Push──▶ resampler ──▶ ring ──Pull──▶ backend      (Output)
//
// Nothing on the Push or Pull path locks, logs or allocates.
package audio
