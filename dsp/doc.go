// Package dsp implements the per-strip audio processing chain.
//
// Samples are float32 in [-1, 1], one slice per channel, processed in
// place one block at a time. The pipeline is fixed:
//
//	delay -> EQ bands -> expander -> compressor -> reverb -> volume -> mute -> dither
//
// EQ bands are direct form II transposed biquads with RBJ cookbook designs.
// Coefficients are recomputed only when a band parameter changes. A
// degenerate design (non-positive Q or sample rate, a frequency outside
// the open interval (0, fs/2)) yields the pass-through section.
//
// The compressor and the expander share GainComputer and LevelDetector. The
// deepest reduction computed for any channel at a sample frame is applied
// to every channel. Digital silence maps to zero reduction.
//
// None of the processing methods log, lock or allocate.
package dsp
