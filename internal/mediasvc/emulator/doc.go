// Package emulator is an in-process implementation of mediasvc.Service.
//
// Assets store their files encrypted with AES-GCM under the asset's storage
// content key, so content is unreadable while that key is detached. Jobs run
// the Queued, Scheduled, Processing, Finished lifecycle on their own
// goroutines; no more jobs leave the queue than the reserved unit count
// allows. A job that reaches the end of processing without a usable content
// key on its input asset ends in the Error state.
//
// Faults injects failures by name and Calls returns an ordered journal of
// mutating calls, which the pipeline tests use to assert cleanup.
package emulator
