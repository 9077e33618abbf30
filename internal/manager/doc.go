// Package manager owns the lifecycle of model weights: the per-model state
// table, verified downloads, and residency of loaded models in accelerator
// memory with least-recently-used eviction driven by live hardware readings.
//
// All state lives behind one mutex. Network transfers, loader calls, file
// removal and handle release run outside it, so status queries never wait on
// a multi-second load.
package manager
