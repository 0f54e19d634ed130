// Package minio implements blobstore.BlobStore on top of MinIO and any
// S3-compatible object storage. Reads are served with ranged GETs, so a
// checkpoint header can be inspected without pulling the whole artifact.
package minio
