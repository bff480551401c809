package redis

// Redis key naming conventions. All keys are prefixed with "sharesync:"
// to avoid collisions.

const keyPrefix = "sharesync:"

// jobKey returns the Hash key for a job: sharesync:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// itemKey returns the Hash key for an item: sharesync:item:{messageID}
func itemKey(messageID string) string { return keyPrefix + "item:" + messageID }

// itemIDsKey is the Set tracking all item message IDs for enumeration.
const itemIDsKey = keyPrefix + "item_ids"

// jobItemsKey returns the Set of message IDs belonging to one job.
func jobItemsKey(jobID string) string { return keyPrefix + "job_items:" + jobID }

// logsKey returns the List of serialized log entries for one job;
// logsAllKey holds every entry.
func logsKey(jobID string) string { return keyPrefix + "logs:" + jobID }

const logsAllKey = keyPrefix + "logs"

// logSeqKey is the INCR counter assigning log entry IDs.
const logSeqKey = keyPrefix + "log_seq"
