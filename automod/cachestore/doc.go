// Short-lived cache of platform moderation status (removed, deleted, approved) of submissions.
//
// Rules which compare a submission against older ones (eg, repost checks) look up the status of each candidate; caching those lookups keeps the platform API budget for the submission under evaluation. The engine purges a submission's entry when it removes the submission.
package cachestore
