// Package component is the lifecycle contract of imgflow's infrastructure.
// A Registry starts components in registration order, stops them in reverse
// and folds their health reports into one status.
package component
