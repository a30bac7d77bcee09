package common

// APIVersion is the hub REST/MQTT api-version the library talks.
const APIVersion = "2019-03-30"
