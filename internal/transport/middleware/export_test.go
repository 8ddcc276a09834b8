package middleware

var FilterSensitiveBody = filterSensitiveBody
