package domain

// KeyPrefix namespaces every key policyrag writes to a shared key-value store.
const KeyPrefix = "policyrag:"
