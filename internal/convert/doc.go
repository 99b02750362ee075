// Package convert holds the domain types, collaborator interfaces and small
// policies shared by the sitemap resolver, the render scheduler, the
// checkpoint store and the merge assembler.
package convert
