package metadata

// WithHasher lets tests force selector collisions.
var WithHasher = withHasher
