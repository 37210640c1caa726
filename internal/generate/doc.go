// Package generate runs image-to-model generation jobs against the shared
// staging, scratch and publication layout.
//
// A job is:
//  1. validate the request and stage the image at the fixed input path
//  2. run the backend under the configured deadline
//  3. discover exactly one candidate output in the scratch directory
//  4. rename it over the published model
//  5. verify the published model, removing it if implausibly small
//
// Cleanup of the staged input and scratch directory runs after every job,
// whatever the outcome. At most one job runs at a time: an in-process
// semaphore guards against concurrent requests and a flock on the layout
// lock file guards against other processes sharing the same directories.
//
// Jobs execute on their own goroutine. A caller that stops waiting does not
// stop the job; only the deadline or service shutdown does.
package generate
