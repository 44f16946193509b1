// Package glossary defines the core types shared across subsystems: the
// unified resource descriptor, the platform adapter contract, crawl state
// entries, the error taxonomy, and the portal configuration consumed by the
// orchestrator and facade.
package glossary
