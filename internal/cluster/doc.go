// Package cluster reaches containers running in a Kubernetes cluster.
//
// The rest of podfs depends only on the interfaces in cluster.go: an
// Executor that spawns remote processes with piped standard streams, a
// StreamSource for following logs and events, and a PodAPI for listing and
// deleting pods. Implementations:
//
//   - KubectlExecutor runs "kubectl exec" locally (with a pty for TTY sessions)
//   - WebSocketExecutor speaks the exec subresource's channel protocol directly
//   - Client talks to the API server REST endpoints through kubectl proxy
//
// StartProxy launches the proxy, DetectTools checks the local kubectl
// installation and DefaultNamespace reads the kubeconfig.
package cluster
