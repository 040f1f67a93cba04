/*
Package monitor polls threat-intelligence RSS/Atom feeds, scores each entry
by severity (CVSS score, keyword buckets, bare CVE id), deduplicates by a
content fingerprint, and pushes qualifying alerts to the operator channel.

Fingerprints are the first 16 hex chars of sha256("source:url:title").
The seen set lives in Redis when configured, a local bbolt file otherwise,
and an in-process map as the last resort; a process-local delivered set
additionally guarantees a run never sends one fingerprint twice.

Critical and high alerts get a one-sentence model summary on the free tier,
cache-backed like every other inference. When SHODAN_API_KEY is set, a
narrow shim also alerts on newly seen open ports of watched hosts.
*/
package monitor
