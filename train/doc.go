// Package train drives model training: optimizers that apply accumulated
// gradients, learning rate schedules, metric sinks and the epoch loop with
// best-checkpoint tracking.
//
// Models plug in through the Trainable contract; the adapters in this
// package wrap the four perception models and the stock configurations
// mirror the regime each architecture was tuned with. Runs honor context
// cancellation and write a final interrupt checkpoint, so a long run
// aborted by an operator keeps its progress on disk.
package train
