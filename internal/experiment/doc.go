// Package experiment turns a batch file into fully resolved Descriptors, one
// per training job.
//
// A batch file declares defaults and a list of experiments. Each experiment is
// merged over the defaults and any list-valued model or solver value is
// unrolled (zip or product) into separate Descriptors. Every Descriptor carries
// a content hash of its model and solver configuration, which is what the
// job manager uses to tell whether two Descriptors describe the same job.
package experiment
