// Package provisioning turns a bare Ubuntu host into a single-node k3s
// platform. Work is split into sequential phases; each phase is an idempotent
// remote script, so a failed provisioning run can be retried from the start
// without cleanup.
//
// The Provisioner drives the full lifecycle around the phases: SSH probe,
// host info and public IP discovery, status transitions on the server row,
// kubeconfig capture, and the audit record.
package provisioning
