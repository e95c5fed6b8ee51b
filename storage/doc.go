// Package storage is the blob store port of the pipeline and the registry of
// its backends.
//
// A run touches two stores: the working store holds submitted sources and
// intermediate artifacts, the output store holds terminal artifacts under
// per-run folders. Backends register themselves from init:
//
//   - storage/local: a directory, confined with os.Root
//   - storage/memory: in-process, for single-process runs and tests
//   - storage/s3: Amazon S3 and compatible services, presigned URLs
//   - storage/gcs: Google Cloud Storage, V4 signed URLs
//
// Configuration of one store:
//
//	storage:
//	  output:
//	    provider: s3
//	    auto_create: true
//	    max_file_size: 25MB
//	    s3:
//	      bucket: imgflow-output
//	      region: eu-west-1
package storage
