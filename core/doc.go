// Package core defines the shared data model for FlowMesh: workflow phases,
// session state, checkpoints, tool descriptors, trust scores and the failure /
// recovery types exchanged between the workflow engine, the plugin registry
// and the diagnostic agent. Higher-level packages (session, workflow,
// registry, trust, diagnostic) depend on core; core depends on nothing but
// the standard library, uuid and the logging abstraction.
package core
